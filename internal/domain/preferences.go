package domain

// Budget bounds an event price. Either side may be unset.
type Budget struct {
	Min *float64 `json:"min,omitempty" bson:"min,omitempty"`
	Max *float64 `json:"max,omitempty" bson:"max,omitempty"`
}

func (b *Budget) IsZero() bool { return b == nil || (b.Min == nil && b.Max == nil) }

func (b *Budget) clone() *Budget {
	if b == nil {
		return nil
	}
	out := &Budget{}
	if b.Min != nil {
		v := *b.Min
		out.Min = &v
	}
	if b.Max != nil {
		v := *b.Max
		out.Max = &v
	}
	return out
}

// Preferences is the stored subscription of a user.
type Preferences struct {
	EventTypes  []string  `json:"eventTypes,omitempty" bson:"eventTypes,omitempty"`
	Location    string    `json:"location,omitempty" bson:"location,omitempty"`
	MaxDistance *int      `json:"maxDistance,omitempty" bson:"maxDistance,omitempty"`
	Budget      *Budget   `json:"budget,omitempty" bson:"budget,omitempty"`
	Keywords    []string  `json:"keywords,omitempty" bson:"keywords,omitempty"`
	Frequency   Frequency `json:"frequency" bson:"frequency"`
}

// PartialPreferences carries only the fields a caller provided. A nil field
// means "absent", not "clear".
type PartialPreferences struct {
	EventTypes  []string `json:"eventTypes,omitempty"`
	Location    *string  `json:"location,omitempty"`
	MaxDistance *int     `json:"maxDistance,omitempty"`
	Budget      *Budget  `json:"budget,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Frequency   *string  `json:"frequency,omitempty"`
}

// IsEmpty reports whether no field was provided.
func (p PartialPreferences) IsEmpty() bool {
	return p.EventTypes == nil && p.Location == nil && p.MaxDistance == nil &&
		p.Budget == nil && p.Keywords == nil && p.Frequency == nil
}

// Partial returns the stored preferences as a fully populated partial, so
// stored and incoming preferences share one normalization path.
func (p Preferences) Partial() PartialPreferences {
	out := PartialPreferences{
		EventTypes: append([]string{}, p.EventTypes...),
		Keywords:   append([]string{}, p.Keywords...),
		Budget:     p.Budget.clone(),
	}
	if p.Location != "" {
		loc := p.Location
		out.Location = &loc
	}
	if p.MaxDistance != nil {
		d := *p.MaxDistance
		out.MaxDistance = &d
	}
	f := p.Frequency.String()
	out.Frequency = &f
	return out
}
