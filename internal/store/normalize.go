package store

import (
	"strconv"
	"strings"

	"github.com/viralscope/viralscope/internal/model"
)

// primaryProfileColumns is the allow-list for primary_profiles writes.
// Fields outside this list never reach SQL.
var primaryProfileColumns = map[string]bool{
	"username": true, "display_name": true, "bio": true, "followers": true,
	"posts_count": true, "is_verified": true, "account_type": true,
	"image_key": true, "primary_category": true, "secondary_category": true,
	"tertiary_category": true, "total_reels": true, "median_views": true,
	"mean_views": true, "std_views": true, "total_views": true,
	"total_likes": true, "total_comments": true, "similar_accounts": true,
	"last_full_scrape": true, "analysis_timestamp": true,
}

// secondaryProfileColumns is the allow-list for secondary_profiles writes.
var secondaryProfileColumns = map[string]bool{
	"username": true, "full_name": true, "bio": true, "followers": true,
	"following": true, "media_count": true, "image_key": true,
	"is_verified": true, "account_type": true, "primary_category": true,
	"secondary_category": true, "tertiary_category": true,
	"similarity_rank": true, "discovered_by": true,
}

// FilterAllowed drops map keys not present in the allow-list. Used for
// payloads assembled from external API responses before they reach SQL.
func FilterAllowed(fields map[string]any, allowed map[string]bool) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}

// PrimaryProfileAllowed filters a field map against the primary_profiles
// allow-list.
func PrimaryProfileAllowed(fields map[string]any) map[string]any {
	return FilterAllowed(fields, primaryProfileColumns)
}

// SecondaryProfileAllowed filters a field map against the secondary_profiles
// allow-list.
func SecondaryProfileAllowed(fields map[string]any) map[string]any {
	return FilterAllowed(fields, secondaryProfileColumns)
}

// NormalizeAccountType maps vendor account-type markers onto the canonical
// set. Instagram's numeric codes 1/2/3 mean personal/business/creator;
// anything unrecognised falls back to Personal.
func NormalizeAccountType(v any) model.AccountType {
	switch t := v.(type) {
	case model.AccountType:
		return normalizeAccountString(string(t))
	case string:
		return normalizeAccountString(t)
	case int:
		return accountTypeFromCode(t)
	case int64:
		return accountTypeFromCode(int(t))
	case float64:
		return accountTypeFromCode(int(t))
	default:
		return model.AccountTypePersonal
	}
}

func accountTypeFromCode(code int) model.AccountType {
	switch code {
	case 1:
		return model.AccountTypePersonal
	case 2:
		return model.AccountTypeBusiness
	case 3:
		return model.AccountTypeInfluencer
	default:
		return model.AccountTypePersonal
	}
}

func normalizeAccountString(s string) model.AccountType {
	s = strings.TrimSpace(s)
	if code, err := strconv.Atoi(s); err == nil {
		return accountTypeFromCode(code)
	}
	switch strings.ToLower(s) {
	case "personal":
		return model.AccountTypePersonal
	case "business", "business page", "business_page":
		return model.AccountTypeBusiness
	case "creator", "influencer":
		return model.AccountTypeInfluencer
	case "theme page", "theme_page", "theme":
		return model.AccountTypeThemePage
	default:
		return model.AccountTypePersonal
	}
}

// NormalizeUsername lowercases and strips the leading @ if present.
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}
