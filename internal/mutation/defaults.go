package mutation

import (
	"strings"

	"github.com/UkralStul/campus-sync/internal/domain"
)

// AuthorName - имя для подписи: отображаемое имя, иначе часть email до "@".
func AuthorName(actor domain.Actor) string {
	if name := strings.TrimSpace(actor.DisplayName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(actor.Email, "@"); strings.TrimSpace(local) != "" {
		return local
	}
	return "User"
}

// OpportunityDefaults заполняет пустые поля вакансии.
func OpportunityDefaults(o domain.CareerOpportunity) domain.CareerOpportunity {
	o.CompanyName = firstNonEmpty(o.CompanyName, "Hidden Company")
	o.Role = firstNonEmpty(o.Role, "Specialist")
	o.EmploymentKind = firstNonEmpty(o.EmploymentKind, "Full-time")
	o.Compensation = firstNonEmpty(o.Compensation, "Not Disclosed")
	o.Location = firstNonEmpty(o.Location, "On-Campus")
	o.Deadline = firstNonEmpty(o.Deadline, "See Description")
	o.Criteria = firstNonEmpty(o.Criteria, "Check post details")

	link := strings.TrimSpace(o.ApplyLink)
	if link != "" && !strings.HasPrefix(link, "http") {
		link = "https://" + link
	}
	o.ApplyLink = link

	if !o.Status.Valid() {
		o.Status = domain.StatusHiring
	}
	return o
}

// ExperienceDefaults заполняет пустые поля отзыва.
func ExperienceDefaults(e domain.InterviewExperience) domain.InterviewExperience {
	e.CompanyName = firstNonEmpty(e.CompanyName, "Company")
	if !e.Difficulty.Valid() {
		e.Difficulty = domain.DifficultyMedium
	}
	rounds := make([]string, 0, len(e.Rounds))
	for _, r := range e.Rounds {
		if r = strings.TrimSpace(r); r != "" {
			rounds = append(rounds, r)
		}
	}
	if len(rounds) == 0 {
		rounds = []string{"General"}
	}
	e.Rounds = rounds
	return e
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
