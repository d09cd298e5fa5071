package operators

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"saasloader/internal/hooks/httpx"
	"saasloader/internal/hooks/zuora"
)

// ── Run day ────────────────────────────────────────────────

const lastDayOfMonth = "Last Day of Month"

// runDay is "*", a day of the month, or "Last Day of Month".
type runDay string

func (d *runDay) UnmarshalYAML(n *yaml.Node) error {
	*d = runDay(n.Value)
	return nil
}

func (d runDay) validate() error {
	switch string(d) {
	case "*", lastDayOfMonth:
		return nil
	}
	day, err := strconv.Atoi(string(d))
	if err != nil || day < 1 || day > 31 {
		return fmt.Errorf("execute_on_day must be *, a day of the month or %q, got %q", lastDayOfMonth, string(d))
	}
	return nil
}

// matches reports whether t falls on the configured day.
func (d runDay) matches(t time.Time) bool {
	switch string(d) {
	case "*":
		return true
	case lastDayOfMonth:
		return t.AddDate(0, 0, 1).Month() != t.Month()
	}
	day, _ := strconv.Atoi(string(d))
	return t.Day() == day
}

// ── Bill run ───────────────────────────────────────────────

type billRunParams struct {
	ZuoraConnID                 string        `yaml:"zuora_conn_id"`
	InvoiceDate                 string        `yaml:"invoice_date"`
	TargetDate                  string        `yaml:"target_date"`
	ExecuteOnDay                runDay        `yaml:"execute_on_day"`
	ExecuteOnTimezone           string        `yaml:"execute_on_timezone"`
	AccountID                   string        `yaml:"account_id"`
	AutoEmail                   bool          `yaml:"auto_email"`
	AutoPost                    bool          `yaml:"auto_post"`
	AutoRenewal                 bool          `yaml:"auto_renewal"`
	Batch                       string        `yaml:"batch"`
	BillCycleDay                string        `yaml:"bill_cycle_day"`
	ChargeTypeToExclude         string        `yaml:"charge_type_to_exclude"`
	NoEmailForZeroAmountInvoice bool          `yaml:"no_email_for_zero_amount_invoice"`
	PollInterval                time.Duration `yaml:"poll_interval"`
}

type zuoraBillRun struct {
	p   billRunParams
	loc *time.Location
}

func init() {
	define("zuora_bill_run",
		"Create a Zuora bill run on the configured day and offset negative invoices",
		billRunParams{
			ZuoraConnID:       "zuora_default",
			ExecuteOnTimezone: "America/New_York",
			Batch:             "AllBatches",
			BillCycleDay:      "AllBillCycleDays",
			PollInterval:      zuora.DefaultPollInterval,
		},
		func(p *billRunParams) (Operator, error) {
			if err := required("invoice_date", p.InvoiceDate, "target_date", p.TargetDate); err != nil {
				return nil, err
			}
			if err := p.ExecuteOnDay.validate(); err != nil {
				return nil, err
			}
			loc, err := time.LoadLocation(p.ExecuteOnTimezone)
			if err != nil {
				return nil, fmt.Errorf("execute_on_timezone: %w", err)
			}
			return &zuoraBillRun{p: *p, loc: loc}, nil
		})
}

var billRunInProgress = map[string]bool{"Pending": true, "PostInProgress": true}

func (o *zuoraBillRun) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	today := env.now().In(o.loc)
	if !o.p.ExecuteOnDay.matches(today) {
		log.Info("execute_on_day does not match today, skipping", "execute_on_day", o.p.ExecuteOnDay, "today", today.Format("2006-01-02"))
		return &Result{Skipped: true}, nil
	}

	conn, err := env.connection(o.p.ZuoraConnID)
	if err != nil {
		return nil, err
	}
	client, err := zuora.NewREST(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	client.PollInterval = o.p.PollInterval

	log.Info("creating bill run", "invoice_date", o.p.InvoiceDate, "target_date", o.p.TargetDate)
	id, err := client.CreateBillRun(ctx, zuora.BillRun{
		InvoiceDate:                 o.p.InvoiceDate,
		TargetDate:                  o.p.TargetDate,
		AccountID:                   o.p.AccountID,
		AutoEmail:                   o.p.AutoEmail,
		AutoPost:                    o.p.AutoPost,
		AutoRenewal:                 o.p.AutoRenewal,
		Batch:                       o.p.Batch,
		BillCycleDay:                o.p.BillCycleDay,
		ChargeTypeToExclude:         o.p.ChargeTypeToExclude,
		NoEmailForZeroAmountInvoice: o.p.NoEmailForZeroAmountInvoice,
	})
	if err != nil {
		return nil, err
	}

	status := "Pending"
	for billRunInProgress[status] {
		if err := sleep(ctx, o.p.PollInterval); err != nil {
			return nil, err
		}
		rows, err := client.Query(ctx, "select Id, Status from BillRun where Id = "+zoqlString(id))
		if err != nil {
			return nil, fmt.Errorf("poll bill run %s: %w", id, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("bill run %s not found", id)
		}
		status = httpx.String(rows[0]["Status"])
	}
	log.Info("bill run finished, adjusting negative invoices", "bill_run", id, "status", status)

	invoices, err := client.Query(ctx, "select Id, InvoiceNumber, Balance from Invoice where BillRunId = "+zoqlString(id)+" and Balance < 0")
	if err != nil {
		return nil, fmt.Errorf("negative invoices: %w", err)
	}
	res := &Result{RowsRead: len(invoices)}
	for _, inv := range invoices {
		balance, err := amount(inv["Balance"])
		if err != nil {
			return nil, fmt.Errorf("invoice %v: %w", inv["Id"], err)
		}
		if _, err := client.CreateCreditBalanceAdjustment(ctx, map[string]any{
			"Amount":              math.Abs(balance),
			"SourceTransactionId": inv["Id"],
			"Type":                "Increase",
			"ReasonCode":          "Standard Adjustment",
			"AccountingCode":      "Customer Cash On Account",
		}); err != nil {
			return nil, err
		}
		res.wrote("credit-balance-adjustment", 1)
	}
	log.Info("negative invoices adjusted", "count", len(invoices))
	return res, nil
}

// ── Delinquent customers ───────────────────────────────────

const delinquentQuery = `select Account.Id as "account", Subscription.Id as "id", ` +
	`DefaultPaymentMethod.Id as "payment_method", ` +
	`DefaultPaymentMethod.LastTransactionDateTime as "last_failed", ` +
	`Subscription.ContractEffectiveDate as "contract_effective_date" ` +
	`from Subscription where Status = 'Active' and DefaultPaymentMethod.NumConsecutiveFailures >= 4 ` +
	`and Account.CustomerType__c = 'SMB'`

type delinquentParams struct {
	ZuoraConnID  string        `yaml:"zuora_conn_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type zuoraCancelDelinquent struct{ p delinquentParams }

func init() {
	define("zuora_cancel_delinquent_customers",
		"Cancel SMB subscriptions with repeated payment failures and settle their open invoices",
		delinquentParams{
			ZuoraConnID:  "zuora_default",
			PollInterval: zuora.DefaultPollInterval,
		},
		func(p *delinquentParams) (Operator, error) {
			return &zuoraCancelDelinquent{p: *p}, nil
		})
}

// cancelDate is the later of the last failed transaction day and the
// contract effective date. Both are compared as YYYY-MM-DD strings.
func cancelDate(lastFailed, contractEffective string) string {
	if len(lastFailed) > 10 {
		lastFailed = lastFailed[:10]
	}
	if lastFailed > contractEffective {
		return lastFailed
	}
	return contractEffective
}

// creditAdjustment sizes the credit balance adjustment that moves an open
// invoice toward zero.
func creditAdjustment(invoice, credit float64) float64 {
	if invoice < 0 || credit > invoice {
		return math.Abs(invoice)
	}
	return math.Abs(credit)
}

func (o *zuoraCancelDelinquent) Run(ctx context.Context, env *Env) (*Result, error) {
	log := env.logger()
	conn, err := env.connection(o.p.ZuoraConnID)
	if err != nil {
		return nil, err
	}
	client, err := zuora.NewREST(conn, env.httpOptions()...)
	if err != nil {
		return nil, err
	}
	client.PollInterval = o.p.PollInterval

	subs, err := client.AquaQuery(ctx, delinquentQuery)
	if err != nil {
		return nil, fmt.Errorf("find delinquent subscriptions: %w", err)
	}
	res := &Result{RowsRead: len(subs)}
	log.Info("delinquent subscriptions found", "count", len(subs))

	for _, sub := range subs {
		if err := o.cancel(ctx, log, client, sub, res); err != nil {
			return res, fmt.Errorf("subscription %s: %w", httpx.String(sub["id"]), err)
		}
	}
	return res, nil
}

func (o *zuoraCancelDelinquent) cancel(ctx context.Context, log *slog.Logger, client *zuora.RESTClient, sub map[string]any, res *Result) error {
	id := httpx.String(sub["id"])
	account := httpx.String(sub["account"])
	date := cancelDate(httpx.String(sub["last_failed"]), httpx.String(sub["contract_effective_date"]))

	if _, err := client.CancelSubscription(ctx, id, map[string]any{
		"cancellationPolicy":        "SpecificDate",
		"cancellationEffectiveDate": date,
		"invoiceCollect":            true,
	}); err != nil {
		return err
	}
	res.wrote("subscription", 1)
	log.Info("subscription cancelled", "subscription", id, "account", account, "effective", date)

	invoices, err := client.Query(ctx, "select Id, InvoiceNumber, Balance from Invoice where AccountId = "+
		zoqlString(account)+" and Balance != 0 and Status = 'Posted'")
	if err != nil {
		return fmt.Errorf("open invoices: %w", err)
	}

	for _, inv := range invoices {
		invID := httpx.String(inv["Id"])
		credit, err := queryAmount(ctx, client, "select CreditBalance from Account where Id = "+zoqlString(account), "CreditBalance")
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		balance, err := amount(inv["Balance"])
		if err != nil {
			return fmt.Errorf("invoice %s: %w", invID, err)
		}

		if balance < 0 || credit > 0 {
			typ := "Decrease"
			if balance < 0 {
				typ = "Increase"
			}
			if _, err := client.CreateCreditBalanceAdjustment(ctx, map[string]any{
				"Amount":              creditAdjustment(balance, credit),
				"SourceTransactionId": invID,
				"Type":                typ,
				"ReasonCode":          "Cancel - Nonpayment",
				"AccountingCode":      "Customer Cash On Account",
			}); err != nil {
				return err
			}
			res.wrote("credit-balance-adjustment", 1)
		}

		balance, err = queryAmount(ctx, client, "select Balance from Invoice where Id = "+zoqlString(invID), "Balance")
		if err != nil {
			return fmt.Errorf("invoice %s balance: %w", invID, err)
		}
		if balance > 0 {
			if _, err := client.CreateObject(ctx, "invoice-adjustment", map[string]any{
				"AccountingCode": "Financing Expenses:Bad Debt Expense",
				"Amount":         balance,
				"InvoiceId":      invID,
				"Type":           "Credit",
				"ReasonCode":     "Write-off",
			}); err != nil {
				return err
			}
			res.wrote("invoice-adjustment", 1)
		}
	}

	pm := httpx.String(sub["payment_method"])
	if _, err := client.UpdateObject(ctx, "payment-method", pm, map[string]any{"PaymentMethodStatus": "Closed"}); err != nil {
		return err
	}
	res.wrote("payment-method", 1)
	return nil
}

// queryAmount returns field of the first row of a ZOQL query.
func queryAmount(ctx context.Context, q zuora.Querier, zoql, field string) (float64, error) {
	rows, err := q.Query(ctx, zoql)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("no rows")
	}
	return amount(rows[0][field])
}
