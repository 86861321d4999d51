package rules

// Default returns the built-in rule pack. Each call returns a fresh copy.
func Default() *Pack {
	return &Pack{
		Safety: SafetyRules{
			Thresholds: map[string]float64{
				CategoryJailbreak: 1,
				CategoryInjection: 1,
				CategoryHate:      1,
				CategorySexual:    1,
				CategoryViolence:  1,
				CategorySelfHarm:  1,
			},
			Rules: []SafetyRule{
				{ID: "jb-dan", Category: CategoryJailbreak, Pattern: `\b(?:dan mode|do anything now)\b`, Weight: 2},
				{ID: "jb-developer-mode", Category: CategoryJailbreak, Pattern: `\b(?:developer mode|jailbreak(?:ed|ing)?)\b`, Weight: 2},
				{ID: "jb-no-restrictions", Category: CategoryJailbreak, Pattern: `\bwithout (?:any )?(?:restrictions|limitations|filters|guidelines)\b`, Weight: 1},
				{ID: "jb-pretend", Category: CategoryJailbreak, Pattern: `\b(?:pretend (?:you are|to be)|act as an? (?:unfiltered|uncensored|evil|unrestricted))\b`, Weight: 1},
				{ID: "jb-unbound", Category: CategoryJailbreak, Pattern: `\byou are no longer bound by\b`, Weight: 2},
				{ID: "jb-system-prompt-leak", Category: CategoryJailbreak, Pattern: `\b(?:reveal|print|show|output|repeat|display|leak) (?:your|the) (?:system|hidden|initial|original) (?:prompt|instructions)\b`, Weight: 2},

				{ID: "inj-ignore-instructions", Category: CategoryInjection, Pattern: `\b(?:ignore|disregard|forget|override) (?:all |any |the |your )?(?:previous|prior|above|earlier|preceding) (?:instructions|prompts|rules|directions)\b`, Weight: 2},
				{ID: "inj-new-instructions", Category: CategoryInjection, Pattern: `\bnew instructions\s*:`, Weight: 1.5},
				{ID: "inj-delimiter", Category: CategoryInjection, Pattern: `</?(?:system|instructions)>|\[/?inst\]`, Weight: 1.5},
				{ID: "inj-role-override", Category: CategoryInjection, Pattern: `\byou are now (?:an? )?(?:different|new|unrestricted) (?:ai|assistant|model)\b`, Weight: 1.5},

				{ID: "hate-extermination", Category: CategoryHate, Pattern: `\b(?:kill|exterminate|eradicate) all (?:\w+ )?(?:people|immigrants|jews|muslims|christians|gays)\b`, Weight: 2},
				{ID: "hate-dehumanizing", Category: CategoryHate, Pattern: `\b(?:subhuman|inferior race|racial purity)\b`, Weight: 1.5},

				{ID: "sexual-explicit", Category: CategorySexual, Pattern: `\b(?:sexually explicit|explicit sex(?:ual)? (?:content|story|scene)|pornograph(?:y|ic))\b`, Weight: 2},
				{ID: "sexual-minors", Category: CategorySexual, Pattern: `\b(?:child|minor|underage)\b[^.]{0,40}\b(?:sexual|nude|explicit)\b`, Weight: 3},

				{ID: "violence-weapons", Category: CategoryViolence, Pattern: `\bhow to (?:make|build|assemble) (?:a |an )?(?:bomb|explosive|pipe bomb|untraceable gun)\b`, Weight: 2},
				{ID: "violence-threat", Category: CategoryViolence, Pattern: `\b(?:murder|kill|hurt|attack) (?:him|her|them|someone|my (?:boss|neighbor|wife|husband))\b`, Weight: 1.5},
				{ID: "violence-mass", Category: CategoryViolence, Pattern: `\bmass (?:shooting|murder|casualty attack)\b`, Weight: 1.5},

				{ID: "self-harm-intent", Category: CategorySelfHarm, Pattern: `\b(?:kill|hurt|harm|cut) myself\b`, Weight: 2},
				{ID: "self-harm-methods", Category: CategorySelfHarm, Pattern: `\b(?:suicide methods?|ways to (?:die|commit suicide)|end my life)\b`, Weight: 2},
				{ID: "self-harm-overdose", Category: CategorySelfHarm, Pattern: `\boverdose on purpose\b`, Weight: 2},
			},
		},

		Terminology: []TermRule{
			{ID: "term-absolute-guarantee", Pattern: `\b(?:guaranteed to work|100% (?:guaranteed|effective|safe|accurate))`, Message: "absolute guarantee", Severity: 4},
			{ID: "med-cure-claim", Domain: DomainMedical, Pattern: `\bcures? (?:cancer|diabetes|hiv|aids|autism|alzheimer'?s)\b`, Message: "unsupported cure claim", Severity: 7},
			{ID: "med-outdated-term", Domain: DomainMedical, Pattern: `\b(?:mental retardation|mentally retarded|insane asylum|juvenile diabetes)\b`, Message: "outdated clinical terminology", Severity: 4},
			{ID: "med-no-side-effects", Domain: DomainMedical, Pattern: `\b(?:has|have|with) no side effects\b`, Message: "claims a treatment has no side effects", Severity: 4},
			{ID: "med-stop-medication", Domain: DomainMedical, Pattern: `\bstop taking (?:your|all) (?:medication|medicine|insulin)\b`, Message: "advises stopping medication", Severity: 8},
			{ID: "legal-certain-outcome", Domain: DomainLegal, Pattern: `\byou will (?:definitely|certainly) win\b`, Message: "promises a legal outcome", Severity: 5},
			{ID: "fin-guaranteed-returns", Domain: DomainFinancial, Pattern: `\b(?:guaranteed (?:returns?|profits?)|risk[- ]free investment)\b`, Message: "promises investment returns", Severity: 6},
		},

		Compliance: ComplianceRules{
			Prohibited: []TermRule{
				{ID: "comp-impersonate-professional", Pattern: `\bas your (?:doctor|physician|lawyer|attorney|financial advisor)\b`, Message: "impersonates a licensed professional", Severity: 6},
				{ID: "comp-skip-professional", Pattern: `\b(?:no need|don't need|do not need) to (?:see|consult) (?:a|your) (?:doctor|physician|lawyer|attorney|professional)\b`, Message: "discourages professional consultation", Severity: 7},
				{ID: "comp-definitive-diagnosis", Domain: DomainMedical, Pattern: `\byou (?:definitely|certainly) have\b`, Message: "gives a definitive diagnosis", Severity: 6},
			},
			Disclaimers: map[string]Disclaimer{
				DomainMedical: {
					Patterns: []string{
						`not (?:a substitute for|intended as|meant as) (?:professional )?medical advice`,
						`consult (?:a|your) (?:doctor|physician|healthcare (?:provider|professional))`,
						`for (?:educational|informational) purposes only`,
					},
					Message:  "missing medical disclaimer",
					Severity: 5,
				},
				DomainLegal: {
					Patterns: []string{`not legal advice`, `consult (?:a|an|your) (?:lawyer|attorney)`},
					Message:  "missing legal disclaimer",
					Severity: 5,
				},
				DomainFinancial: {
					Patterns: []string{`not financial advice`, `consult (?:a|your) (?:financial|licensed) (?:advisor|professional)`},
					Message:  "missing financial disclaimer",
					Severity: 5,
				},
			},
		},

		Claims: []ClaimRule{
			{ID: "claim-flat-earth", Pattern: `\bthe earth is flat\b`, Correction: "the Earth is an oblate spheroid"},
			{ID: "claim-great-wall", Pattern: `\bgreat wall of china is visible from (?:space|the moon)\b`, Correction: "the Great Wall is not visible to the naked eye from orbit"},
			{ID: "claim-ten-percent-brain", Pattern: `\b(?:we|humans|people) (?:only )?use (?:only )?10 ?% of (?:our|their) brains?\b`, Correction: "virtually all of the brain is active"},
			{ID: "claim-two-plus-two", Pattern: `\b2 ?\+ ?2 (?:is|=|equals) (?:[0-35-9]|five|three)\b`, Correction: "2 + 2 = 4"},
			{ID: "claim-vaccines-autism", Domain: DomainMedical, Pattern: `\bvaccines? (?:cause[sd]?|leads? to) autism\b`, Correction: "vaccines do not cause autism"},
			{ID: "claim-antibiotics-viruses", Domain: DomainMedical, Pattern: `\bantibiotics (?:kill|treat|cure) (?:viruses|viral infections|the flu|colds?)\b`, Correction: "antibiotics act on bacteria, not viruses"},
			{ID: "claim-insulin-liver", Domain: DomainMedical, Pattern: `\binsulin is produced (?:by|in) the liver\b`, Correction: "insulin is produced by pancreatic beta cells"},
			{ID: "claim-sugar-hyperactivity", Domain: DomainMedical, Pattern: `\bsugar causes hyperactivity\b`, Correction: "controlled studies show no effect"},
			{ID: "claim-past-performance", Domain: DomainFinancial, Pattern: `\bpast performance guarantees future results\b`, Correction: "past performance does not guarantee future results"},
		},

		Contradictions: []PhrasePair{
			{ID: "contra-safe", A: `\bis (?:completely |entirely )?safe\b`, B: `\bis (?:not safe|unsafe)\b`},
			{ID: "contra-effective", A: `\bis (?:highly )?effective\b`, B: `\bis (?:not effective|ineffective)\b`},
			{ID: "contra-recommended", A: `\bis recommended\b`, B: `\bis not recommended\b`},
			{ID: "contra-contagious", A: `\bis contagious\b`, B: `\bis not contagious\b`},
		},

		Placeholders: []string{
			`\[(?:insert|your|todo|placeholder)[^\]]*\]`,
			`\{\{[^}]+\}\}`,
			`\blorem ipsum\b`,
		},
	}
}
