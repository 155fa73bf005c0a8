package categ

// Targets maps each forwardable category to its master channel ID.
type Targets struct {
	Agent        string
	Apptbk       string
	ManagedAdmin string
	StormAdmin   string
}

// For returns the master channel for a category, reporting whether one is
// configured.
func (t Targets) For(c Category) (string, bool) {
	var id string
	switch c {
	case CategoryAgent:
		id = t.Agent
	case CategoryApptbk:
		id = t.Apptbk
	case CategoryManagedAdmin:
		id = t.ManagedAdmin
	case CategoryStormAdmin:
		id = t.StormAdmin
	}
	return id, id != ""
}
