package escalation

import (
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/medspa-sms-coordinator/internal/notify"
	"github.com/wolfman30/medspa-sms-coordinator/internal/treatment"
)

var categoryGuidance = map[treatment.Category]string{
	treatment.CategoryNeurotoxin:     "Check for eyelid or brow ptosis, asymmetry, difficulty swallowing or breathing.",
	treatment.CategoryFiller:         "Rule out vascular occlusion: blanching, mottling, severe pain or vision changes need immediate review.",
	treatment.CategoryChemicalPeel:   "Assess for blistering, crusting, infection or pigment change.",
	treatment.CategoryMicroneedling:  "Assess for infection, prolonged redness or track marks.",
	treatment.CategoryLaser:          "Assess for burns, blistering or pigment change.",
	treatment.CategoryBodyContouring: "Assess for paradoxical hypertrophy, severe pain or numbness.",
	treatment.CategoryGeneral:        "Review the patient's report and follow up.",
}

func guidance(c treatment.Category) string {
	if g, ok := categoryGuidance[c]; ok {
		return g
	}
	return categoryGuidance[treatment.CategoryGeneral]
}

func renderAlert(e *Escalation, clinicName string) notify.Alert {
	label := strings.ToUpper(string(e.Priority))
	patient := e.PatientName
	if patient == "" {
		patient = "Patient " + e.PatientID
	}

	subject := fmt.Sprintf("[%s] Complication report: %s", label, patient)
	if clinicName != "" {
		subject = fmt.Sprintf("[%s] %s complication report: %s", label, clinicName, patient)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Priority: %s\n", label)
	fmt.Fprintf(&b, "Patient: %s\n", patient)
	if e.PatientPhone != "" {
		fmt.Fprintf(&b, "Callback: %s\n", e.PatientPhone)
	}
	switch {
	case e.Treatment != nil:
		t := e.Treatment
		fmt.Fprintf(&b, "Treatment: %s (%s) on %s, %d day(s) ago\n",
			t.ServiceName, t.ServiceCategory, t.Date.Format("Jan 2, 2006"), t.DaysSince)
		fmt.Fprintf(&b, "Provider: %s\n", t.PractitionerName)
	case e.LookupFailed:
		b.WriteString("Treatment history unavailable; check the chart manually.\n")
	default:
		b.WriteString("No qualifying treatment in the lookback window.\n")
	}
	fmt.Fprintf(&b, "\nReport: %s\n\n%s\n", e.Description, guidance(e.Category))
	fmt.Fprintf(&b, "Reference: %s\n", e.ID)
	body := b.String()

	sms := fmt.Sprintf("%s complication report for %s", label, patient)
	if e.Treatment != nil {
		sms += fmt.Sprintf(" (%s, %dd ago)", e.Treatment.ServiceCategory, e.Treatment.DaysSince)
	}
	if e.PatientPhone != "" {
		sms += ". Call " + e.PatientPhone
	}
	sms += ". Ref " + e.ID.String()[:8]

	return notify.Alert{
		Subject: subject,
		Body:    body,
		HTML:    "<pre>" + html.EscapeString(body) + "</pre>",
		SMS:     sms,
		Urgent:  e.Priority == PriorityHigh,
		Tags: map[string]string{
			"priority": string(e.Priority),
			"category": string(e.Category),
		},
	}
}
