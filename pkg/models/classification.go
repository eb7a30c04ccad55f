package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority levels, descending urgency.
const (
	PriorityCritical = "Critical"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
	PriorityLow      = "Low"
)

// Fixed category taxonomy.
const (
	CategoryCriticalAlerts       = "Critical Alerts"
	CategoryNewLeads             = "New Leads"
	CategoryMaintenanceRequests  = "Maintenance Requests"
	CategoryOffersContracts      = "Offers & Contracts"
	CategoryTenantCommunications = "Tenant Communications"
	CategoryVendorCommunications = "Vendor Communications"
	CategoryLegalCompliance      = "Legal & Compliance"
	CategoryMarketingListings    = "Marketing & Listings"
	CategoryFinancial            = "Financial"
	CategoryGeneral              = "General"
)

// Category describes one taxonomy entry as seeded into the store.
type Category struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Taxonomy returns the closed category set in display order.
func Taxonomy() []Category {
	return []Category{
		{Name: CategoryCriticalAlerts, Description: "Emergency situations requiring immediate attention"},
		{Name: CategoryNewLeads, Description: "Potential clients and property inquiries"},
		{Name: CategoryMaintenanceRequests, Description: "Property maintenance, repairs and broken items"},
		{Name: CategoryOffersContracts, Description: "Purchase offers, contracts and escrow matters"},
		{Name: CategoryTenantCommunications, Description: "Communications with current tenants"},
		{Name: CategoryVendorCommunications, Description: "Contractors, suppliers and service providers"},
		{Name: CategoryLegalCompliance, Description: "Legal matters, attorney communications and violations"},
		{Name: CategoryMarketingListings, Description: "Property marketing, listings and open houses"},
		{Name: CategoryFinancial, Description: "Commission payments, accounting and invoices"},
		{Name: CategoryGeneral, Description: "Everything else"},
	}
}

// ValidCategory reports whether name is part of the closed taxonomy.
func ValidCategory(name string) bool {
	for _, c := range Taxonomy() {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is one of the four priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Classification holds the triage result for a message, exactly one per
// message. Status flags are the only fields mutated after creation.
type Classification struct {
	ID              int64      `db:"id"`
	MessageID       int64      `db:"message_id"` // FK to messages.id, unique
	Category        string     `db:"category"`
	SubCategory     string     `db:"sub_category"`
	Priority        string     `db:"priority"`
	Confidence      float64    `db:"confidence"`
	Summary         string     `db:"summary"`
	ExtractedInfo   string     `db:"extracted_info"` // JSON of ExtractedInfo
	Tags            string     `db:"tags"`           // JSON array
	ContactName     string     `db:"contact_name"`
	ContactPhone    string     `db:"contact_phone"`
	ContactEmail    string     `db:"contact_email"`
	PropertyAddress string     `db:"property_address"`
	IsRead          bool       `db:"is_read"`
	IsArchived      bool       `db:"is_archived"`
	IsImportant     bool       `db:"is_important"`
	RequiresAction  bool       `db:"requires_action"`
	ActionDueAt     *time.Time `db:"action_due_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// TagList decodes the tags column.
func (c *Classification) TagList() []string {
	if c.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(c.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

// SetTagList encodes tags for storage.
func (c *Classification) SetTagList(tags []string) error {
	if len(tags) == 0 {
		c.Tags = ""
		return nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	c.Tags = string(data)
	return nil
}

// ExtractedInfo carries the fields every consumer relies on as typed values,
// plus an open string map for anything else the classifier surfaces.
type ExtractedInfo struct {
	ContactName     string
	ContactPhone    string
	ContactEmail    string
	PropertyAddress string
	UrgencyLevel    string
	ActionRequired  string
	Extra           map[string]string
}

// SetExtra stores a key into the open map, allocating it on first use.
func (e *ExtractedInfo) SetExtra(key, value string) {
	if e.Extra == nil {
		e.Extra = make(map[string]string)
	}
	e.Extra[key] = value
}

// MarshalJSON flattens the well-known fields and the Extra map into a single
// JSON object, omitting empty values.
func (e ExtractedInfo) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(e.Extra)+6)
	for k, v := range e.Extra {
		out[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("contact_name", e.ContactName)
	put("contact_phone", e.ContactPhone)
	put("contact_email", e.ContactEmail)
	put("property_address", e.PropertyAddress)
	put("urgency_level", e.UrgencyLevel)
	put("action_required", e.ActionRequired)
	return json.Marshal(out)
}

// UnmarshalJSON pulls the well-known keys into typed fields and folds every
// other key into Extra. Non-string values are kept as their compact JSON text
// so nothing the model returned is silently dropped.
func (e *ExtractedInfo) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ExtractedInfo{}
	for key, val := range raw {
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			s = strings.TrimSpace(string(val))
			if s == "null" {
				continue
			}
		}
		switch key {
		case "contact_name":
			e.ContactName = s
		case "contact_phone":
			e.ContactPhone = s
		case "contact_email":
			e.ContactEmail = s
		case "property_address":
			e.PropertyAddress = s
		case "urgency_level":
			e.UrgencyLevel = s
		case "action_required":
			e.ActionRequired = s
		default:
			e.SetExtra(key, s)
		}
	}
	return nil
}
