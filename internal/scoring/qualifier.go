package scoring

// Qualifier votes QualifiedFactor when its condition holds and
// NonQualifiedFactor otherwise. A qualifier's neutral value is Min so it
// never lifts an object by accident; a disqualifier's neutral value is Max so
// it never penalizes one.
type Qualifier[T any] struct {
	Description        string
	QualifiedFactor    float64
	NonQualifiedFactor float64

	condition func(T) bool
	analyze   func(T) bool
}

// NewQualifier builds a qualifier whose non-qualified factor is Min.
func NewQualifier[T any](description string, factor float64, condition func(T) bool) *Qualifier[T] {
	return &Qualifier[T]{
		Description:        description,
		QualifiedFactor:    factor,
		NonQualifiedFactor: Min,
		condition:          condition,
	}
}

// NewDisqualifier builds a disqualifier whose non-qualified factor is Max.
func NewDisqualifier[T any](description string, penalty float64, condition func(T) bool) *Qualifier[T] {
	return &Qualifier[T]{
		Description:        description,
		QualifiedFactor:    penalty,
		NonQualifiedFactor: Max,
		condition:          condition,
	}
}

// WithAnalyze attaches a one-shot analysis step that caches its result on
// the object. The function reports whether it changed the object.
func (q *Qualifier[T]) WithAnalyze(fn func(T) bool) *Qualifier[T] {
	q.analyze = fn
	return q
}

// Analyze runs the analysis step, if any.
func (q *Qualifier[T]) Analyze(obj T) bool {
	if q.analyze == nil {
		return false
	}
	return q.analyze(obj)
}

// ConditionMet evaluates the predicate.
func (q *Qualifier[T]) ConditionMet(obj T) bool {
	return q.condition(obj)
}

// Classify returns the factor for obj.
func (q *Qualifier[T]) Classify(obj T) float64 {
	if q.ConditionMet(obj) {
		return q.QualifiedFactor
	}
	return q.NonQualifiedFactor
}

// Vote defers Classify until a combiner asks for it.
func (q *Qualifier[T]) Vote(obj T) Vote {
	return func() float64 { return q.Classify(obj) }
}

// Votes builds lazy votes for every qualifier in qs.
func Votes[T any](obj T, qs []*Qualifier[T]) []Vote {
	out := make([]Vote, len(qs))
	for i, q := range qs {
		out[i] = q.Vote(obj)
	}
	return out
}
