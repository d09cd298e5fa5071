package operators

var (
	BindNamed        = bindNamed
	CancelDate       = cancelDate
	CreditAdjustment = creditAdjustment
	ParseDelimited   = parseDelimited
	HeaderQuery      = headerQuery
	WithParallelOff  = withParallelOff
)
