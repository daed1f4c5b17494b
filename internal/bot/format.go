package bot

import (
	"fmt"
	"strconv"
	"strings"

	"zakupbot/internal/model"
)

const approveDateLayout = "2006-01-02 15:04"

// FormatNotification composes the plan notification text. Missing or
// unrecognized fields degrade to placeholders; composition never fails.
func FormatNotification(plan model.Plan) string {
	customer := plan.CustomerName
	if customer == "" {
		customer = model.LabelUnknown
	}
	bin := plan.CustomerBIN
	if bin == "" {
		bin = model.LabelUnknown
	}

	date := model.LabelUnknown
	if t, ok := plan.ApproveTime(); ok {
		date = t.Format(approveDateLayout)
	}

	year := model.LabelUnknown
	if plan.Year != 0 {
		year = strconv.Itoa(plan.Year)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏢  %s\n", customer)
	fmt.Fprintf(&b, "📌  БИН: %s\n", bin)
	fmt.Fprintf(&b, "📅  %s\n", date)
	fmt.Fprintf(&b, "📋  %s | %s | %s\n", model.DurationLabel(plan.PlanDurationType), model.PlanTypeLabel(plan.PlanType), year)
	b.WriteString("🔧  ТРУ: Услуги по обеспечению информационной безопасности.\n")
	b.WriteString("🌐  Источник: zakup.sk.kz\n")
	return b.String()
}
