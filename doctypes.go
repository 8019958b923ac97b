package json2ubl

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// documentTypeCodes maps UN/CEFACT document name codes to UBL document
// types
var documentTypeCodes = map[string]string{
	"1":   "Catalogue",
	"6":   "CertificateOfOrigin",
	"10":  "ContractNotice",
	"11":  "PriorInformationNotice",
	"15":  "ContractAwardNotice",
	"17":  "CallForTenders",
	"21":  "ItemInformationRequest",
	"24":  "AwardedNotification",
	"25":  "UnawardedNotification",
	"42":  "TransportationStatus",
	"43":  "TransportationStatusRequest",
	"45":  "TenderReceipt",
	"50":  "Tender",
	"54":  "TendererQualification",
	"55":  "TendererQualificationResponse",
	"71":  "Reminder",
	"76":  "TransportExecutionPlanRequest",
	"77":  "TransportExecutionPlan",
	"92":  "ExceptionCriteria",
	"93":  "ExceptionNotification",
	"129": "CatalogueRequest",
	"140": "Forecast",
	"141": "ForecastRevision",
	"142": "InventoryReport",
	"143": "ProductActivity",
	"144": "RetailEvent",
	"145": "StockAvailabilityReport",
	"146": "TradeItemLocationProfile",
	"147": "TransportProgressStatus",
	"148": "TransportProgressStatusRequest",
	"149": "TransportServiceDescription",
	"150": "TransportServiceDescriptionRequest",
	"170": "CataloguePricingUpdate",
	"171": "CatalogueItemSpecificationUpdate",
	"172": "CatalogueDeletion",
	"220": "Order",
	"221": "OrderResponseSimple",
	"227": "OrderChange",
	"230": "OrderCancellation",
	"231": "OrderResponse",
	"232": "FulfilmentCancellation",
	"271": "PackingList",
	"310": "RequestForQuotation",
	"311": "ApplicationResponse",
	"312": "DocumentStatus",
	"313": "DocumentStatusRequest",
	"315": "Quotation",
	"325": "Statement",
	"326": "UtilityStatement",
	"380": "Invoice",
	"381": "CreditNote",
	"383": "DebitNote",
	"389": "SelfBilledInvoice",
	"396": "SelfBilledCreditNote",
	"430": "RemittanceAdvice",
	"447": "GuaranteeCertificate",
	"610": "ForwardingInstructions",
	"632": "DespatchAdvice",
	"633": "ReceiptAdvice",
	"635": "InstructionForReturns",
	"705": "BillOfLading",
	"716": "Waybill",
	"744": "GoodsItemItinerary",
	"780": "FreightInvoice",
	"916": "AttachedDocument",
}

// documentTypeNames indexes the table by lowercase document type name
var documentTypeNames = func() map[string]string {
	names := make(map[string]string, len(documentTypeCodes))
	for _, name := range documentTypeCodes {
		names[strings.ToLower(name)] = name
	}
	return names
}()

// DocumentTypeCodes returns a copy of the code table
func DocumentTypeCodes() map[string]string {
	return maps.Clone(documentTypeCodes)
}

// DocumentTypeNames returns every known document type name, sorted
func DocumentTypeNames() []string {
	return slices.Sorted(maps.Values(documentTypeNames))
}

// ResolveDocumentType resolves a document_type value to a document type
// name. Numeric codes may arrive as strings or JSON numbers; a known
// document type name is accepted as is.
func ResolveDocumentType(v any) (string, error) {
	var raw string
	switch v := v.(type) {
	case nil:
		return "", NewError(CodeDocumentType, "document_type is missing", nil)
	case string:
		raw = strings.TrimSpace(v)
	case float64:
		if v != float64(int64(v)) {
			return "", NewError(CodeDocumentType, fmt.Sprintf("unknown document type code %v", v), nil).
				WithDetail("document_type", v)
		}
		raw = strconv.FormatInt(int64(v), 10)
	case json.Number:
		raw = v.String()
	case int:
		raw = strconv.Itoa(v)
	case int64:
		raw = strconv.FormatInt(v, 10)
	default:
		return "", NewError(CodeDocumentType, fmt.Sprintf("unsupported document_type value %v", v), nil).
			WithDetail("document_type", fmt.Sprint(v))
	}

	if raw == "" {
		return "", NewError(CodeDocumentType, "document_type is missing", nil)
	}
	if name, ok := documentTypeCodes[raw]; ok {
		return name, nil
	}
	if name, ok := documentTypeNames[strings.ToLower(raw)]; ok {
		return name, nil
	}
	return "", NewError(CodeDocumentType, fmt.Sprintf("unknown document type code %s", raw), nil).
		WithDetail("document_type", raw)
}
