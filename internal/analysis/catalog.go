package analysis

import "fmt"

// catalog holds the user-facing wording of generated findings for one language.
type catalog struct {
	unknown string

	leaseReasoning    []string
	nonLeaseReasoning []string
	assetSpecificity  string
	controlIndicators []string
	noSubstitution    string

	contractLease   string
	contractService string

	riskRenewal     string
	riskTermination string
	riskClauses     string

	recLease    []string
	recNonLease []string
	compliance  []string

	summary func(assetType, contractType string, months int, payment string, isLease bool) string

	failedContract   string
	failedFinding    func(phase string) string
	failedRisk       func(reason string) string
	failedRecommend  string
	failedSummary    func(reason string) string
	frequencyMonthly string
	frequencyYearly  string
	frequencyUnknown string
}

var catalogs = map[string]*catalog{
	"en": {
		unknown: "Unknown",
		leaseReasoning: []string{
			"The contract contains lease-related terminology",
			"A right to use an identified asset can be identified",
			"The lessee has the right to direct the use of the asset",
		},
		nonLeaseReasoning: []string{
			"No clear element indicating a lease contract was found",
			"The contract has strong service contract characteristics",
		},
		assetSpecificity:  "Identified physical asset",
		controlIndicators: []string{"Right to direct how the asset is used", "Right to obtain economic benefits from use of the asset"},
		noSubstitution:    "No substantive substitution right of the lessor was found",
		contractLease:     "Lease contract",
		contractService:   "Service contract",
		riskRenewal:       "Contract contains a renewal option",
		riskTermination:   "Contract contains an early termination option",
		riskClauses:       "Special clauses complicate the lease assessment",
		recLease: []string{
			"Recognise as in scope of IFRS 16 / ASC 842",
			"Record a right-of-use asset and a lease liability",
			"Perform initial measurement at the commencement date",
		},
		recNonLease: []string{
			"Treat as outside the scope of lease accounting standards",
			"Expense as a service contract",
		},
		compliance: []string{
			"Recognition and measurement of the right-of-use asset",
			"Calculation and recording of the lease liability",
			"Preparation of note disclosures",
			"Periodic reassessment of the lease term",
		},
		summary: func(assetType, contractType string, months int, payment string, isLease bool) string {
			scope := "outside the scope of lease accounting standards"
			if isLease {
				scope = "in scope of the new lease accounting standards"
			}
			return fmt.Sprintf("%s for %s. Term %d months, payment %s. %s.", contractType, assetType, months, payment, scope)
		},
		failedContract:  "Analysis error",
		failedFinding:   func(phase string) string { return fmt.Sprintf("An error occurred during %s", phase) },
		failedRisk:      func(reason string) string { return "Error detail: " + reason },
		failedRecommend: "Check the file format and content, then retry",
		failedSummary: func(reason string) string {
			return "The document could not be processed because of an analysis error. Error: " + reason
		},
		frequencyMonthly: "monthly",
		frequencyYearly:  "yearly",
		frequencyUnknown: "unknown frequency",
	},
	"ja": {
		unknown: "不明",
		leaseReasoning: []string{
			"契約書にリース関連の用語が含まれている",
			"特定された資産の使用権が識別される",
			"借手が資産の使用を制御する権利を有する",
		},
		nonLeaseReasoning: []string{
			"リース契約を示す明確な要素が見つからない",
			"サービス契約の特性が強い",
		},
		assetSpecificity:  "特定された物理的資産",
		controlIndicators: []string{"資産の使用方法を指示する権利", "資産からの経済的便益を享受する権利"},
		noSubstitution:    "貸手に実質的な代替権は見られない",
		contractLease:     "リース契約",
		contractService:   "サービス契約",
		riskRenewal:       "契約更新オプションの存在",
		riskTermination:   "中途解約オプションの存在",
		riskClauses:       "特別条項による判定の複雑化",
		recLease: []string{
			"IFRS 16 / ASC 842の適用対象として認識",
			"使用権資産とリース負債の計上が必要",
			"契約開始日における初期測定の実施",
		},
		recNonLease: []string{
			"リース会計基準の適用対象外として処理",
			"サービス契約として費用処理",
		},
		compliance: []string{
			"使用権資産の認識と測定",
			"リース負債の計算と計上",
			"注記事項の開示準備",
			"リース期間の定期的な見直し",
		},
		summary: func(assetType, contractType string, months int, payment string, isLease bool) string {
			scope := "リース会計基準の適用対象外"
			if isLease {
				scope = "新会計基準の適用対象"
			}
			return fmt.Sprintf("%sに関する%s。契約期間%dヶ月、支払%s。%s。", assetType, contractType, months, payment, scope)
		},
		failedContract: "解析エラー",
		failedFinding: func(phase string) string {
			return fmt.Sprintf("%sの処理中にエラーが発生しました", phase)
		},
		failedRisk:      func(reason string) string { return "エラー詳細: " + reason },
		failedRecommend: "ファイル形式や内容を確認して再試行してください",
		failedSummary: func(reason string) string {
			return "解析エラーのため、ドキュメントの内容を処理できませんでした。エラー: " + reason
		},
		frequencyMonthly: "毎月",
		frequencyYearly:  "毎年",
		frequencyUnknown: "支払頻度不明",
	},
}

// catalogFor falls back to English for unset or unsupported languages.
func catalogFor(language string) *catalog {
	if c, ok := catalogs[language]; ok {
		return c
	}
	return catalogs["en"]
}
