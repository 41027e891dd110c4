package types

// CostType tags a cost ledger entry with the kind of spend it represents
type CostType string

const (
	CostTypeTokens          CostType = "tokens"
	CostTypeLLMAPI          CostType = "llm_api"
	CostTypeOpenAI          CostType = "openai"
	CostTypeAnthropic       CostType = "anthropic"
	CostTypeCompute         CostType = "compute"
	CostTypeCPU             CostType = "cpu"
	CostTypeGPU             CostType = "gpu"
	CostTypeMemory          CostType = "memory"
	CostTypeStorage         CostType = "storage"
	CostTypeS3              CostType = "s3"
	CostTypeDatabase        CostType = "database"
	CostTypeDisk            CostType = "disk"
	CostTypeAPI             CostType = "api"
	CostTypeVendorAPI       CostType = "vendor_api"
	CostTypeExternalService CostType = "external_service"
)

// CostTypesForMeter returns the cost types that may be attributed to the
// given meter key. A nil result means every cost type is attributable.
func CostTypesForMeter(meterKey string) []CostType {
	switch {
	case hasPrefix(meterKey, "llm."):
		return []CostType{CostTypeTokens, CostTypeLLMAPI, CostTypeOpenAI, CostTypeAnthropic}
	case hasPrefix(meterKey, "compute."):
		return []CostType{CostTypeCompute, CostTypeCPU, CostTypeGPU, CostTypeMemory}
	case hasPrefix(meterKey, "storage."):
		return []CostType{CostTypeStorage, CostTypeS3, CostTypeDatabase, CostTypeDisk}
	case hasPrefix(meterKey, "api."):
		return []CostType{CostTypeAPI, CostTypeVendorAPI, CostTypeExternalService}
	default:
		// workflow.* and neutral meters attribute every cost type
		return nil
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
