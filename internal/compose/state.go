package compose

import "github.com/ezmail/ezmail/internal/model"

// transitions lists the states each state may move to
var transitions = map[model.SessionState][]model.SessionState{
	model.StateDraft:      {model.StateValidating, model.StateDiscarded},
	model.StateValidating: {model.StateReserved, model.StateDraft, model.StateDiscarded},
	model.StateReserved:   {model.StateSending, model.StateDiscarded},
	model.StateSending:    {model.StateSent, model.StateFailed, model.StateDiscarded},
	model.StateFailed:     {model.StateValidating, model.StateDiscarded},
	model.StateSent:       nil,
	model.StateDiscarded:  nil,
}

func canTransition(from, to model.SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
