package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractedInfo_MarshalOmitsEmpty(t *testing.T) {
	info := ExtractedInfo{ContactName: "Sam Lee", PropertyAddress: "12 Oak St"}

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, map[string]string{
		"contact_name":     "Sam Lee",
		"property_address": "12 Oak St",
	}, out)
}

func TestExtractedInfo_RoundTripWithExtra(t *testing.T) {
	info := ExtractedInfo{ContactPhone: "555-0142"}
	info.SetExtra("attachment_count", "2")

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var back ExtractedInfo
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "555-0142", back.ContactPhone)
	assert.Equal(t, "2", back.Extra["attachment_count"])
}

func TestExtractedInfo_UnknownKeysFoldIntoExtra(t *testing.T) {
	raw := `{"contact_name": "Jane", "lockbox_code": "4411", "unit": "4B"}`

	var info ExtractedInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "Jane", info.ContactName)
	assert.Equal(t, "4411", info.Extra["lockbox_code"])
	assert.Equal(t, "4B", info.Extra["unit"])
}

func TestExtractedInfo_NonStringValuesKeptAsText(t *testing.T) {
	raw := `{"urgency_level": 3, "follow_ups": ["call","email"], "contact_phone": null}`

	var info ExtractedInfo
	require.NoError(t, json.Unmarshal([]byte(raw), &info))
	assert.Equal(t, "3", info.UrgencyLevel)
	assert.Equal(t, `["call","email"]`, info.Extra["follow_ups"])
	assert.Empty(t, info.ContactPhone)
}

func TestValidCategoryAndPriority(t *testing.T) {
	assert.True(t, ValidCategory(CategoryCriticalAlerts))
	assert.True(t, ValidCategory(CategoryGeneral))
	assert.False(t, ValidCategory("Spam"))

	assert.True(t, ValidPriority(PriorityCritical))
	assert.True(t, ValidPriority(PriorityLow))
	assert.False(t, ValidPriority("Extreme"))
}

func TestTaxonomySize(t *testing.T) {
	assert.Len(t, Taxonomy(), 10)
}
