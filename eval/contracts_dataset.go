package eval

// ContractsEasyDataset returns easy (single-fact lookup) test cases for
// a corpus of commercial lease and services agreements. Questions target
// one clause each; expected facts use `alt|ernatives` where documents
// phrase the same term differently.
func ContractsEasyDataset() Dataset {
	return Dataset{
		Name:       "Contracts Easy - Single Clause Lookup",
		Difficulty: DifficultyEasy,
		Tests: []TestCase{
			{
				Question:      "What is the required notice period for terminating the lease?",
				ExpectedFacts: []string{"notice", "thirty|30"},
				Category:      "single-fact",
				Explanation:   "The termination clause requires thirty days written notice before the end of a rental period.",
			},
			{
				Question:      "How large is the security deposit the tenant must pay?",
				ExpectedFacts: []string{"deposit", "two months|2 months"},
				Category:      "single-fact",
				Explanation:   "The deposit clause fixes the security deposit at two months rent, payable on signing.",
			},
			{
				Question:      "When does the services agreement take effect?",
				ExpectedFacts: []string{"effective", "january|1 january|january 1"},
				Category:      "single-fact",
				Explanation:   "The term clause states the agreement is effective from January 1 of the contract year.",
			},
			{
				Question:      "Who bears the cost of minor repairs in the leased premises?",
				ExpectedFacts: []string{"tenant|lessee", "repair"},
				Category:      "single-fact",
				Explanation:   "The maintenance clause allocates minor repairs to the tenant; structural repairs stay with the landlord.",
			},
			{
				Question:      "What law governs the agreement?",
				ExpectedFacts: []string{"governing law|governed by"},
				Category:      "single-fact",
				Explanation:   "The governing-law clause names the jurisdiction whose law applies to the contract.",
			},
			{
				Question:      "Is subletting the premises permitted?",
				ExpectedFacts: []string{"sublet|sublease", "consent|written"},
				Category:      "single-fact",
				Explanation:   "The assignment clause forbids subletting without the landlord's prior written consent.",
			},
			{
				Question:      "What is the cap on the contractor's total liability?",
				ExpectedFacts: []string{"liability", "cap|limit"},
				Category:      "single-fact",
				Explanation:   "The limitation-of-liability clause caps total liability at the fees paid in the preceding twelve months.",
			},
			{
				Question:      "How often is rent due?",
				ExpectedFacts: []string{"rent", "monthly|month"},
				Category:      "single-fact",
				Explanation:   "The payment clause makes rent due monthly in advance on the first business day.",
			},
			{
				Question:      "What counts as a force majeure event under the agreement?",
				ExpectedFacts: []string{"force majeure", "beyond the reasonable control|beyond the control"},
				Category:      "single-fact",
				Explanation:   "The definitions article describes force majeure as events beyond the reasonable control of a party, with examples.",
			},
			{
				Question:      "How long must the contractor keep records of test results?",
				ExpectedFacts: []string{"records", "10 years|ten years"},
				Category:      "single-fact",
				Explanation:   "The record-keeping clause requires test records to be retained for a minimum of ten years.",
			},
		},
	}
}

// ContractsMediumDataset returns medium (multi-hop, cross-clause) test
// cases: each answer needs two or more clauses read together.
func ContractsMediumDataset() Dataset {
	return Dataset{
		Name:       "Contracts Medium - Cross-clause Reasoning",
		Difficulty: DifficultyMedium,
		Tests: []TestCase{
			{
				Question:      "Can the landlord keep the deposit if the tenant terminates with proper notice?",
				ExpectedFacts: []string{"deposit", "notice", "return|refund"},
				Category:      "multi-hop",
				Explanation:   "Combines the termination clause (proper notice ends the lease without breach) with the deposit clause (deposit returned absent damage or arrears).",
			},
			{
				Question:      "Does a pandemic excuse late delivery under the services agreement?",
				ExpectedFacts: []string{"force majeure", "pandemic", "excuse|suspend|relieve"},
				Category:      "multi-hop",
				Explanation:   "The force majeure definition lists pandemic; the remedies clause suspends performance obligations for the duration of the event.",
			},
			{
				Question:      "Which obligations survive termination of the agreement?",
				ExpectedFacts: []string{"surviv", "confidentiality|liability"},
				Category:      "multi-hop",
				Explanation:   "The survival clause carries confidentiality, accrued payment, and limitation-of-liability obligations past termination.",
			},
			{
				Question:      "What happens if rent is more than fourteen days late?",
				ExpectedFacts: []string{"late|arrears|default", "interest|terminate"},
				Category:      "multi-hop",
				Explanation:   "The payment clause accrues default interest; the default clause lets the landlord terminate after a cure period.",
			},
			{
				Question:      "Who is responsible for water damage caused by a burst pipe in a structural wall?",
				ExpectedFacts: []string{"landlord|lessor", "structural"},
				Category:      "multi-hop",
				Explanation:   "The maintenance clause assigns structural elements to the landlord; the damage clause follows responsibility for the failed element.",
			},
			{
				Question:      "Under what conditions may the contract price be adjusted during the term?",
				ExpectedFacts: []string{"price|fee|rent", "adjust|review|index"},
				Category:      "multi-hop",
				Explanation:   "The price-review clause permits annual indexation; the change-control clause covers scope-driven adjustments.",
			},
			{
				Question:      "Is the tenant's renovation of the premises allowed, and who owns the improvements afterwards?",
				ExpectedFacts: []string{"alteration|renovation|improvement", "consent", "landlord|revert"},
				Category:      "multi-hop",
				Explanation:   "Alterations need written consent; the fixtures clause vests permanent improvements in the landlord at the end of the lease.",
			},
			{
				Question:      "Which disputes must go to arbitration, and which can go straight to court?",
				ExpectedFacts: []string{"arbitration", "court|injunctive"},
				Category:      "multi-hop",
				Explanation:   "The dispute-resolution clause routes claims to arbitration but carves out injunctive relief for confidentiality breaches.",
			},
		},
	}
}

// ContractsHardDataset returns hard (synthesis) test cases: answers must
// aggregate clauses scattered across a whole document or the corpus.
func ContractsHardDataset() Dataset {
	return Dataset{
		Name:       "Contracts Hard - Corpus Synthesis",
		Difficulty: DifficultyHard,
		Tests: []TestCase{
			{
				Question:      "List every deadline or time limit the tenant must observe under the lease.",
				ExpectedFacts: []string{"thirty|30", "notice", "rent|payment"},
				Category:      "synthesis",
				Explanation:   "Aggregates the notice period, monthly rent due dates, the default cure period, and the end-of-term handover deadline.",
			},
			{
				Question:      "Summarize all termination rights of both parties and their conditions.",
				ExpectedFacts: []string{"terminat", "notice", "breach|default"},
				Category:      "synthesis",
				Explanation:   "Draws on ordinary termination (notice), extraordinary termination (material breach after cure period), and the insolvency clause.",
			},
			{
				Question:      "Compare the liability provisions across the ingested agreements.",
				ExpectedFacts: []string{"liability", "cap|limit|exclude"},
				Category:      "cross-document",
				Explanation:   "Contrasts the services agreement's twelve-month fee cap with the lease's uncapped liability for willful damage.",
			},
			{
				Question:      "Which clauses in the corpus reference the force majeure definition?",
				ExpectedFacts: []string{"force majeure", "clause|article"},
				Category:      "cross-document",
				Explanation:   "The definition in the definitions article is referenced by the delivery, suspension, and termination clauses.",
			},
			{
				Question:      "What must each party do at the end of the lease, step by step?",
				ExpectedFacts: []string{"handover|return|vacate", "deposit", "condition"},
				Category:      "synthesis",
				Explanation:   "Combines the handover clause (vacate, return keys, original condition) with the deposit settlement and final meter readings.",
			},
			{
				Question:      "Identify every obligation that carries a record-keeping or documentation duty.",
				ExpectedFacts: []string{"record|document", "test|audit|inspection"},
				Category:      "synthesis",
				Explanation:   "Covers test-result retention, audit cooperation, inspection reports, and the certified-progress payment trail.",
			},
		},
	}
}

// ContractsAllDatasets returns the contract-law suites keyed by
// difficulty, the shape cmd/eval's --difficulty selector expects.
func ContractsAllDatasets() map[string]Dataset {
	return map[string]Dataset{
		DifficultyEasy:   ContractsEasyDataset(),
		DifficultyMedium: ContractsMediumDataset(),
		DifficultyHard:   ContractsHardDataset(),
	}
}
