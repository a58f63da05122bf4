package pipeline

// Stage is the derived pipeline position of a lead. It is never stored;
// every read recomputes it from the related records.
type Stage string

const (
	StageLead      Stage = "lead"
	StageMeeting   Stage = "meeting"
	StagePricing   Stage = "pricing"
	StageSOW       Stage = "sow"
	StageQuotation Stage = "quotation"
	StageAgreement Stage = "agreement"
	StageSigned    Stage = "signed"
	StagePayment   Stage = "payment"
	StageKickoff   Stage = "kickoff"
	StageComplete  Stage = "complete"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageLead, StageMeeting, StagePricing, StageSOW, StageQuotation,
	StageAgreement, StageSigned, StagePayment, StageKickoff, StageComplete,
}

var stageNames = map[Stage]string{
	StageLead:      "New Lead",
	StageMeeting:   "Meeting Held",
	StagePricing:   "Pricing Plan",
	StageSOW:       "Scope of Work",
	StageQuotation: "Quotation Sent",
	StageAgreement: "Agreement Drafted",
	StageSigned:    "Agreement Signed",
	StagePayment:   "Payment Received",
	StageKickoff:   "Kickoff Requested",
	StageComplete:  "Deal Complete",
}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(Stages))
	for i, s := range Stages {
		m[s] = i
	}
	return m
}()

// Index returns the position of s in pipeline order, or -1 for an unknown stage.
func (s Stage) Index() int {
	i, ok := stageIndex[s]
	if !ok {
		return -1
	}
	return i
}

// DisplayName returns the human-readable stage label.
func (s Stage) DisplayName() string { return stageNames[s] }

const (
	AgreementStatusSigned = "signed"
	KickoffStatusAccepted = "accepted"
)

// Evidence carries the presence/status facts resolution needs. It is a small
// aggregate assembled once by the loader so the precedence rule stays
// testable without any storage dependency.
type Evidence struct {
	HasMeeting      bool
	HasPricing      bool
	HasSOW          bool
	HasQuotation    bool
	HasAgreement    bool
	AgreementStatus string
	HasPayment      bool
	HasKickoff      bool
	KickoffStatus   string
}

// Resolve derives the current stage by sequential override: each later piece
// of evidence wins over the earlier ones. A payment without an agreement is
// an integrity anomaly and contributes nothing.
func Resolve(ev Evidence) Stage {
	stage := StageLead
	if ev.HasMeeting {
		stage = StageMeeting
	}
	if ev.HasPricing {
		stage = StagePricing
	}
	if ev.HasSOW {
		stage = StageSOW
	}
	if ev.HasQuotation {
		stage = StageQuotation
	}
	if ev.HasAgreement {
		stage = StageAgreement
		if ev.AgreementStatus == AgreementStatusSigned {
			stage = StageSigned
		}
		if ev.HasPayment {
			stage = StagePayment
		}
	}
	if ev.HasKickoff {
		stage = StageKickoff
		if ev.KickoffStatus == KickoffStatusAccepted {
			stage = StageComplete
		}
	}
	return stage
}

// ResolveCoarse is Resolve with the signed sub-stage folded back into
// agreement. Some funnels report at that coarser grain; both behaviors are
// deliberate, pick per call site.
func ResolveCoarse(ev Evidence) Stage {
	stage := Resolve(ev)
	if stage == StageSigned {
		return StageAgreement
	}
	return stage
}

// Reached reports whether the lead ever produced evidence for s, regardless
// of which single stage wins resolution. Reach counts feed the funnel and
// bottleneck reports ("how many leads ever got a quotation"), which is a
// different question from the current stage distribution.
func (ev Evidence) Reached(s Stage) bool {
	switch s {
	case StageLead:
		return true
	case StageMeeting:
		return ev.HasMeeting
	case StagePricing:
		return ev.HasPricing
	case StageSOW:
		return ev.HasSOW
	case StageQuotation:
		return ev.HasQuotation
	case StageAgreement:
		return ev.HasAgreement
	case StageSigned:
		return ev.HasAgreement && ev.AgreementStatus == AgreementStatusSigned
	case StagePayment:
		return ev.HasAgreement && ev.HasPayment
	case StageKickoff:
		return ev.HasKickoff
	case StageComplete:
		return ev.HasKickoff && ev.KickoffStatus == KickoffStatusAccepted
	}
	return false
}

// CanProgress is false only for the terminal stage.
func CanProgress(s Stage) bool { return s != StageComplete }
