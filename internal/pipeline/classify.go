package pipeline

import "strings"

// ResearchType is the research focus a report section is assigned.
type ResearchType string

const (
	ResearchTechnical     ResearchType = "technical"
	ResearchTokenomics    ResearchType = "tokenomics"
	ResearchMarket        ResearchType = "market"
	ResearchEcosystem     ResearchType = "ecosystem"
	ResearchGovernance    ResearchType = "governance"
	ResearchTeam          ResearchType = "team"
	ResearchRisks         ResearchType = "risks"
	ResearchOpportunities ResearchType = "opportunities"
)

// DefaultResearchType is used when no rule matches.
const DefaultResearchType = ResearchTechnical

type researchRule struct {
	kind     ResearchType
	keywords []string
}

// researchRules are tried in order; the first rule with a keyword contained
// in the lower-cased text wins.
var researchRules = []researchRule{
	{ResearchTechnical, []string{"technical", "architecture", "protocol", "code", "smart contract"}},
	{ResearchTokenomics, []string{"token", "tokenomics", "supply", "distribution", "economics"}},
	{ResearchMarket, []string{"market", "price", "trading", "volume", "competitors"}},
	{ResearchEcosystem, []string{"ecosystem", "partnership", "integration", "community"}},
	{ResearchGovernance, []string{"governance", "dao", "voting", "proposal"}},
	{ResearchTeam, []string{"team", "development", "roadmap", "founders"}},
	{ResearchRisks, []string{"risks", "challenges", "vulnerabilities"}},
	{ResearchOpportunities, []string{"opportunities", "growth", "potential"}},
}

// ClassifyResearch assigns text, usually a section title, to a research
// type.
func ClassifyResearch(text string) ResearchType {
	lower := strings.ToLower(text)
	for _, rule := range researchRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.kind
			}
		}
	}
	return DefaultResearchType
}

// researchFocus extends a search query toward a research type.
var researchFocus = map[ResearchType]string{
	ResearchTechnical:     "technology architecture consensus smart contracts",
	ResearchTokenomics:    "tokenomics supply distribution utility economics",
	ResearchMarket:        "market position price trading volume competitors",
	ResearchEcosystem:     "ecosystem partnerships integrations community adoption",
	ResearchGovernance:    "governance DAO voting mechanism proposals",
	ResearchTeam:          "team founders development activity roadmap",
	ResearchRisks:         "risks challenges regulatory security vulnerabilities",
	ResearchOpportunities: "opportunities growth catalysts potential",
}

// researchQuery builds the search query for one section of a subject's
// report.
func researchQuery(subject, sectionTitle string, kind ResearchType) string {
	return subject + " cryptocurrency " + sectionTitle + ": " + researchFocus[kind]
}
