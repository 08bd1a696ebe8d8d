package proposals

import "time"

// HTTPAdapter wraps an Engine to satisfy queueserver.ProposalsGate, whose
// methods return interface{} so that package never needs to import this
// one's concrete Proposal type.
type HTTPAdapter struct {
	Engine *Engine
}

func (a HTTPAdapter) List(status, repository, category string, includeSnoozed bool, limit int) (interface{}, error) {
	ps, err := a.Engine.List(status, repository, category, includeSnoozed, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"proposals": ps}, nil
}

func (a HTTPAdapter) Get(id string) (interface{}, error) { return a.Engine.Get(id) }

func (a HTTPAdapter) Promote(id string) (interface{}, error) { return a.Engine.Promote(id) }

func (a HTTPAdapter) Dismiss(id string, note string) (interface{}, error) {
	return a.Engine.Dismiss(id, note)
}

func (a HTTPAdapter) SetPriority(id string, priority string) (interface{}, error) {
	return a.Engine.SetPriority(id, ReviewPriority(priority))
}

func (a HTTPAdapter) Snooze(id string, until time.Time, note string) (interface{}, error) {
	return a.Engine.Snooze(id, until, note)
}

func (a HTTPAdapter) Unsnooze(id string) (interface{}, error) { return a.Engine.Unsnooze(id) }
