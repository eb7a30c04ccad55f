package classifier

import (
	"fmt"
	"strings"

	"github.com/maubry/mailtriage/pkg/models"
)

const promptBodyChars = 2000

const systemPrompt = "You are a professional email classification assistant for real estate professionals. " +
	"Always respond with valid JSON. Pay special attention to emergency and critical situations."

const promptTemplate = `
You are an AI assistant helping a California real estate agent and property manager organize emails.

Classify this email into one of these EXACT categories:

**CATEGORIES:**
1. **Critical Alerts** - Emergency situations requiring immediate attention (fire, flood, break-ins, water leaks, safety issues)
2. **New Leads** - Potential clients, property inquiries, people wanting to buy/sell/rent
3. **Maintenance Requests** - Property maintenance, repairs, broken items, tenant complaints about property issues
4. **Offers & Contracts** - Purchase offers, contracts, legal documents, escrow matters
5. **Tenant Communications** - Communications with current tenants (rent payments, lease issues, move-in/out)
6. **Vendor Communications** - Contractors, suppliers, service providers, invoices, estimates
7. **Legal & Compliance** - Legal matters, attorney communications, compliance issues, violations
8. **Marketing & Listings** - Property marketing, MLS listings, photos, open houses
9. **Financial** - Commission payments, accounting, invoices, financial transactions
10. **General** - Everything else that doesn't fit the above categories

**PRIORITY LEVELS:**
- Critical: Emergency situations, urgent deadlines, critical business matters
- High: New leads, important deadlines, maintenance issues, legal matters
- Medium: Regular business communications, vendor correspondence
- Low: General information, marketing materials, newsletters

**EMAIL TO CLASSIFY:**
%s

**INSTRUCTIONS:**
- Use EXACT category names from the list above
- Choose the MOST SPECIFIC category that fits
- Water leaks, broken pipes, fires, floods = "Critical Alerts" with "Critical" priority
- Property inquiries from potential clients = "New Leads" with "High" priority
- Repair requests, broken appliances, maintenance = "Maintenance Requests" with "High" priority
- Current tenant issues (rent, lease questions) = "Tenant Communications" with "Medium" priority
- Contractor estimates, vendor invoices = "Vendor Communications" with "Medium" priority
- Extract contact info, property addresses, phone numbers, action items
- Be concise but informative in summary

Respond with ONLY valid JSON in this format:
{
    "category": "EXACT category name",
    "sub_category": "More specific classification if applicable",
    "priority": "Critical/High/Medium/Low",
    "summary": "Brief 1-2 sentence summary of the email",
    "extracted_info": {
        "contact_name": "Name if mentioned",
        "contact_phone": "Phone number if mentioned",
        "contact_email": "Email if different from sender",
        "property_address": "Address if mentioned",
        "urgency_level": "Description of urgency if applicable",
        "action_required": "What action is needed if any"
    },
    "requires_action": true/false,
    "confidence_score": 0.0-1.0,
    "tags": ["relevant", "keywords", "extracted"]
}
`

// buildPrompt assembles the fixed-taxonomy classification prompt for one
// message. The body is truncated and an attachment summary appended.
func buildPrompt(in Input) string {
	body := in.Body
	if runes := []rune(body); len(runes) > promptBodyChars {
		body = string(runes[:promptBodyChars])
	}

	var attachmentInfo string
	if len(in.Attachments) > 0 {
		names := make([]string, len(in.Attachments))
		for i, a := range in.Attachments {
			names[i] = a.Filename
		}
		attachmentInfo = fmt.Sprintf("\nAttachments: %d files - %s", len(in.Attachments), strings.Join(names, ", "))
	}

	content := fmt.Sprintf("\nSubject: %s\nFrom: %s <%s>\nBody: %s%s\n",
		in.Subject, in.SenderName, in.SenderEmail, body, attachmentInfo)

	return fmt.Sprintf(promptTemplate, content)
}

// attachmentTypes collects the distinct order-preserving mime types.
func attachmentTypes(refs []models.AttachmentRef) []string {
	seen := make(map[string]bool, len(refs))
	var types []string
	for _, r := range refs {
		if !seen[r.MimeType] {
			seen[r.MimeType] = true
			types = append(types, r.MimeType)
		}
	}
	return types
}
