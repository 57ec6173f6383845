package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"membership_billing/internal/domain/billing"
)

// ImportSummary counts what one ledger import did.
type ImportSummary struct {
	Rows       int
	Imported   int
	Duplicates int
	Skipped    int
	CyclesPaid int
}

type ledgerColumn int

const (
	colReference ledgerColumn = iota
	colAmount
	colDate
	colTransaction
	colPayer
)

// Header names accepted for each column, lower case. Bank exports come in
// Finnish or English.
var ledgerHeaders = map[string]ledgerColumn{
	"reference":         colReference,
	"reference number":  colReference,
	"viite":             colReference,
	"viitenumero":       colReference,
	"amount":            colAmount,
	"määrä":             colAmount,
	"maara":             colAmount,
	"date":              colDate,
	"payment date":      colDate,
	"kirjauspäivä":      colDate,
	"maksupäivä":        colDate,
	"transaction id":    colTransaction,
	"archive id":        colTransaction,
	"arkistointitunnus": colTransaction,
	"payer":             colPayer,
	"maksaja":           colPayer,
	"saaja/maksaja":     colPayer,
}

var ledgerDateLayouts = []string{"02.01.2006", "2.1.2006", time.DateOnly}

// PaymentImporter reads a semicolon separated bank ledger and records the
// incoming payments against the cycles their reference numbers identify.
type PaymentImporter struct {
	repo     billing.Repository
	encoding encoding.Encoding
	log      *logrus.Entry
}

// NewPaymentImporter returns an importer for ledgers in the named charset
// (iso-8859-1, windows-1252 or utf-8).
func NewPaymentImporter(repo billing.Repository, charset string, log *logrus.Entry) (*PaymentImporter, error) {
	enc, err := ledgerEncoding(charset)
	if err != nil {
		return nil, err
	}
	return &PaymentImporter{
		repo:     repo,
		encoding: enc,
		log:      log.WithField("component", "payment_importer"),
	}, nil
}

func ledgerEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	case "utf-8", "utf8":
		return unicode.UTF8, nil
	}
	return nil, fmt.Errorf("unsupported ledger charset %q", charset)
}

// Import reads every row of r. Malformed rows and rows that match no cycle
// are skipped with a warning. Rows already imported are counted as
// duplicates, so importing the same file twice is harmless.
func (pi *PaymentImporter) Import(ctx context.Context, r io.Reader) (ImportSummary, error) {
	var summary ImportSummary

	cr := csv.NewReader(pi.encoding.NewDecoder().Reader(r))
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return summary, fmt.Errorf("failed to read ledger header: %w", err)
	}
	cols, err := mapLedgerColumns(header)
	if err != nil {
		return summary, err
	}

	// Rows without an archive id are keyed by their content plus the
	// occurrence count, so equal payments on the same day stay distinct
	// while re-importing the same file still finds them as duplicates.
	occurrences := make(map[string]int)

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		log := pi.log.WithField("line", line)
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				summary.Rows++
				summary.Skipped++
				log.WithError(err).Warn("Skipping malformed ledger row")
				continue
			}
			return summary, fmt.Errorf("failed to read ledger: %w", err)
		}
		if isBlankRecord(record) {
			continue
		}
		summary.Rows++

		row, err := parseLedgerRow(record, cols)
		if err != nil {
			summary.Skipped++
			log.WithError(err).Warn("Skipping malformed ledger row")
			continue
		}
		if !row.amount.IsPositive() {
			// Outgoing transfers share the ledger.
			summary.Skipped++
			log.Debug("Skipping non-incoming ledger row")
			continue
		}
		if row.transactionID == "" {
			key := fmt.Sprintf("%s-%s-%s", row.reference, row.date.Format("20060102"), row.amount.StringFixed(2))
			occurrences[key]++
			row.transactionID = fmt.Sprintf("%s-%d", key, occurrences[key])
			if occurrences[key] > 1 {
				log.WithField("transaction_id", row.transactionID).
					Warn("Ledger row repeats reference, date and amount without an archive id, recording it as a separate payment")
			}
		}
		if err := pi.record(ctx, log, row, &summary); err != nil {
			return summary, err
		}
	}

	pi.log.WithFields(logrus.Fields{
		"rows":        summary.Rows,
		"imported":    summary.Imported,
		"duplicates":  summary.Duplicates,
		"skipped":     summary.Skipped,
		"cycles_paid": summary.CyclesPaid,
	}).Info("Payment ledger imported")
	return summary, nil
}

// record stores one payment. Only store failures are returned.
func (pi *PaymentImporter) record(ctx context.Context, log *logrus.Entry, row ledgerRow, summary *ImportSummary) error {
	log = log.WithField("reference_number", row.reference)

	cycle, err := pi.repo.GetCycleByReference(ctx, row.reference)
	if err != nil {
		if errors.Is(err, billing.ErrCycleNotFound) {
			summary.Skipped++
			log.Warn("No billing cycle for reference number, payment not recorded")
			return nil
		}
		return fmt.Errorf("failed to look up reference %s: %w", row.reference, err)
	}
	bill, err := pi.repo.LastBill(ctx, cycle.ID)
	if err != nil {
		if errors.Is(err, billing.ErrBillNotFound) {
			summary.Skipped++
			log.WithField("cycle_id", cycle.ID).Warn("Billing cycle has no bill, payment not recorded")
			return nil
		}
		return fmt.Errorf("failed to get last bill of cycle %d: %w", cycle.ID, err)
	}

	payment := &billing.Payment{
		BillID:        bill.ID,
		Amount:        row.amount,
		PaymentDate:   row.date,
		TransactionID: row.transactionID,
		Payer:         row.payer,
	}
	if err := pi.repo.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, billing.ErrDuplicatePayment) {
			summary.Duplicates++
			return nil
		}
		return fmt.Errorf("failed to record payment %s: %w", row.transactionID, err)
	}
	summary.Imported++
	log.WithFields(logrus.Fields{"cycle_id": cycle.ID, "amount": row.amount.StringFixed(2)}).Info("Payment recorded")

	if cycle.IsPaid {
		return nil
	}
	paid, err := pi.repo.SumPaymentsForCycle(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("failed to sum payments of cycle %d: %w", cycle.ID, err)
	}
	if paid.GreaterThanOrEqual(cycle.Sum) {
		if err := pi.repo.MarkCyclePaid(ctx, cycle.ID); err != nil {
			return fmt.Errorf("failed to mark cycle %d paid: %w", cycle.ID, err)
		}
		summary.CyclesPaid++
		log.WithField("cycle_id", cycle.ID).Info("Billing cycle paid in full")
	}
	return nil
}

type ledgerRow struct {
	reference     string
	amount        decimal.Decimal
	date          time.Time
	transactionID string
	payer         string
}

func mapLedgerColumns(header []string) (map[ledgerColumn]int, error) {
	cols := make(map[ledgerColumn]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if c, ok := ledgerHeaders[name]; ok {
			if _, seen := cols[c]; !seen {
				cols[c] = i
			}
		}
	}
	for _, required := range []ledgerColumn{colReference, colAmount, colDate} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("ledger header %q lacks reference, amount or date column", strings.Join(header, ";"))
		}
	}
	return cols, nil
}

func parseLedgerRow(record []string, cols map[ledgerColumn]int) (ledgerRow, error) {
	field := func(c ledgerColumn) string {
		i, ok := cols[c]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var row ledgerRow
	row.reference = billing.NormalizeReference(field(colReference))
	if !billing.ValidReferenceNumber(row.reference) {
		return row, fmt.Errorf("invalid reference number %q", field(colReference))
	}

	amount, err := parseLedgerAmount(field(colAmount))
	if err != nil {
		return row, err
	}
	row.amount = amount

	row.date, err = parseLedgerDate(field(colDate))
	if err != nil {
		return row, err
	}

	row.payer = field(colPayer)
	row.transactionID = field(colTransaction)
	return row, nil
}

func parseLedgerAmount(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return decimal.Zero, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

func parseLedgerDate(s string) (time.Time, error) {
	for _, layout := range ledgerDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func isBlankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
