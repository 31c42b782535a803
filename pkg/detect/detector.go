package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/orderflow-io/orderflow/pkg/extract"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// CustomerSource supplies the tenant's customer base. Both listings are
// already tenant-scoped by the caller's principal.
type CustomerSource interface {
	ListCustomers(ctx context.Context) ([]*model.Customer, error)
	ListContacts(ctx context.Context) ([]*model.CustomerContact, error)
}

// Input is everything the detector can score against.
type Input struct {
	SenderEmail  string
	DocumentText string
	Hint         *extract.CustomerHint
}

// Candidate is one aggregated customer candidate.
type Candidate struct {
	CustomerID   string
	CustomerName string
	Score        float64
	Signals      map[string]float64
}

// Decision is the auto-select verdict for a draft.
type Decision struct {
	Candidates []Candidate // top 5, sorted by score descending
	SelectedID string      // "" when ambiguous or empty
	Confidence float64
}

// Detector aggregates customer signals into a per-customer probability.
type Detector struct {
	source CustomerSource
	log    *slog.Logger

	// Gate thresholds, from the tenant profile.
	AutoSelectThreshold float64
	AutoSelectGap       float64
}

func NewDetector(source CustomerSource, threshold, gap float64) *Detector {
	return &Detector{
		source:              source,
		log:                 slog.Default().With("component", "detect"),
		AutoSelectThreshold: threshold,
		AutoSelectGap:       gap,
	}
}

// Detect scores every customer against the input and applies the gate.
// Signals for the same customer combine as independent evidence:
// score = 1 - prod(1 - s_i), clamped to 0.999.
func (d *Detector) Detect(ctx context.Context, in Input) (*Decision, error) {
	customers, err := d.source.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect: list customers: %w", err)
	}
	contacts, err := d.source.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect: list contacts: %w", err)
	}

	byID := make(map[string]*model.Customer, len(customers))
	for _, c := range customers {
		byID[c.ID] = c
	}

	signals := map[string]map[string]float64{}
	add := func(customerID, signal string, score float64) {
		if score <= 0 {
			return
		}
		m, ok := signals[customerID]
		if !ok {
			m = map[string]float64{}
			signals[customerID] = m
		}
		// Keep the stronger occurrence of the same signal.
		if score > m[signal] {
			m[signal] = score
		}
	}

	d.scoreEmail(in.SenderEmail, contacts, SignalEmailExact, SignalEmailDomain, add)

	if num := findERPNumber(in.DocumentText); num != "" {
		for _, c := range customers {
			if c.ERPCustomerNumber != "" && strings.EqualFold(c.ERPCustomerNumber, num) {
				add(c.ID, SignalERPNumber, scoreERPNumber)
			}
		}
	}

	if name := extractCompanyName(in.DocumentText); name != "" {
		for _, c := range customers {
			add(c.ID, SignalNameFuzzy, nameScore(name, c.Name))
		}
	}

	if in.Hint != nil {
		d.scoreEmail(in.Hint.Email, contacts, SignalHintEmail, SignalHintEmailDom, add)
		if in.Hint.ERPCustomerNumber != "" {
			for _, c := range customers {
				if c.ERPCustomerNumber != "" && strings.EqualFold(c.ERPCustomerNumber, in.Hint.ERPCustomerNumber) {
					add(c.ID, SignalHintERPNumber, scoreERPNumber)
				}
			}
		}
		if in.Hint.Name != "" {
			for _, c := range customers {
				add(c.ID, SignalHintNameFuzzy, nameScore(in.Hint.Name, c.Name))
			}
		}
	}

	dec := &Decision{}
	for customerID, sigs := range signals {
		cand := Candidate{CustomerID: customerID, Score: aggregate(sigs), Signals: sigs}
		if c, ok := byID[customerID]; ok {
			cand.CustomerName = c.Name
		}
		dec.Candidates = append(dec.Candidates, cand)
	}

	sort.Slice(dec.Candidates, func(i, j int) bool {
		if dec.Candidates[i].Score != dec.Candidates[j].Score {
			return dec.Candidates[i].Score > dec.Candidates[j].Score
		}
		return dec.Candidates[i].CustomerID < dec.Candidates[j].CustomerID
	})
	if len(dec.Candidates) > 5 {
		dec.Candidates = dec.Candidates[:5]
	}

	if len(dec.Candidates) > 0 {
		top1 := dec.Candidates[0].Score
		gap := top1
		if len(dec.Candidates) > 1 {
			gap = top1 - dec.Candidates[1].Score
		}
		if top1 >= d.AutoSelectThreshold && gap >= d.AutoSelectGap {
			dec.SelectedID = dec.Candidates[0].CustomerID
			dec.Confidence = top1
		}
	}

	tid, _ := tenant.ID(ctx)
	d.log.Debug("customer detection",
		"tenant_id", tid,
		"candidates", len(dec.Candidates),
		"selected", dec.SelectedID != "")
	return dec, nil
}

func (d *Detector) scoreEmail(email string, contacts []*model.CustomerContact, exactSignal, domainSignal string, add func(string, string, float64)) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return
	}
	domain := emailDomain(email)
	for _, ct := range contacts {
		if ct.Email == email {
			add(ct.CustomerID, exactSignal, scoreEmailExact)
			continue
		}
		if domain != "" && !isGenericDomain(domain) && emailDomain(ct.Email) == domain {
			add(ct.CustomerID, domainSignal, scoreEmailDomain)
		}
	}
}

// aggregate combines a customer's signals as independent evidence.
func aggregate(sigs map[string]float64) float64 {
	miss := 1.0
	for _, s := range sigs {
		miss *= 1 - s
	}
	score := 1 - miss
	if score > 0.999 {
		score = 0.999
	}
	return score
}

// ManualSelectionConfidence is the customer confidence after an operator
// picks a candidate: human verification floors it at 0.90.
func ManualSelectionConfidence(candidateScore float64) float64 {
	if candidateScore > 0.90 {
		return candidateScore
	}
	return 0.90
}
