package accounting

// =============================================================================
// BILLING SCHEDULE - How many installments the annual premium is split into
// =============================================================================

// BillingSchedule names a policy's installment plan. Only the four constants
// below are valid; anything else is a ConfigurationError.
type BillingSchedule string

const (
	ScheduleAnnual    BillingSchedule = "Annual"
	ScheduleTwoPay    BillingSchedule = "Two-Pay"
	ScheduleQuarterly BillingSchedule = "Quarterly"
	ScheduleMonthly   BillingSchedule = "Monthly"
)

// BillingSchedules lists every supported schedule, shortest plan first.
var BillingSchedules = []BillingSchedule{
	ScheduleAnnual,
	ScheduleTwoPay,
	ScheduleQuarterly,
	ScheduleMonthly,
}

// ParseBillingSchedule validates a schedule name.
func ParseBillingSchedule(s string) (BillingSchedule, error) {
	bs := BillingSchedule(s)
	if _, err := bs.Installments(); err != nil {
		return "", err
	}
	return bs, nil
}

// Installments returns the number of invoices the schedule produces per year.
func (bs BillingSchedule) Installments() (int, error) {
	switch bs {
	case ScheduleAnnual:
		return 1, nil
	case ScheduleTwoPay:
		return 2, nil
	case ScheduleQuarterly:
		return 4, nil
	case ScheduleMonthly:
		return 12, nil
	default:
		return 0, &ConfigurationError{Field: "billing schedule", Value: string(bs)}
	}
}

// IntervalMonths is the spacing between consecutive bill dates.
func (bs BillingSchedule) IntervalMonths() (int, error) {
	k, err := bs.Installments()
	if err != nil {
		return 0, err
	}
	return 12 / k, nil
}

func (bs BillingSchedule) Valid() bool {
	_, err := bs.Installments()
	return err == nil
}
