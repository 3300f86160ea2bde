package flight

// Field names one tracked attribute of a [Snapshot].
type Field string

const (
	FieldStatus             Field = "status"
	FieldScheduledDeparture Field = "scheduled_departure"
	FieldEstimatedDeparture Field = "estimated_departure"
	FieldActualDeparture    Field = "actual_departure"
	FieldScheduledArrival   Field = "scheduled_arrival"
	FieldEstimatedArrival   Field = "estimated_arrival"
	FieldActualArrival      Field = "actual_arrival"
	FieldGate               Field = "gate"
	FieldTerminal           Field = "terminal"
)

// FieldKind groups fields that share comparison rules.
type FieldKind int

const (
	KindStatus FieldKind = iota + 1
	KindTime
	KindLocation
)

// Fields lists every tracked field in canonical declared order. Change
// events produced from one snapshot are always emitted in this order.
var Fields = []Field{
	FieldStatus,
	FieldScheduledDeparture,
	FieldEstimatedDeparture,
	FieldActualDeparture,
	FieldScheduledArrival,
	FieldEstimatedArrival,
	FieldActualArrival,
	FieldGate,
	FieldTerminal,
}

// Kind returns the comparison kind of f, or 0 for unknown fields.
func (f Field) Kind() FieldKind {
	switch f {
	case FieldStatus:
		return KindStatus
	case FieldScheduledDeparture, FieldEstimatedDeparture, FieldActualDeparture,
		FieldScheduledArrival, FieldEstimatedArrival, FieldActualArrival:
		return KindTime
	case FieldGate, FieldTerminal:
		return KindLocation
	default:
		return 0
	}
}

// Valid reports whether f is a tracked field.
func (f Field) Valid() bool {
	return f.Kind() != 0
}
