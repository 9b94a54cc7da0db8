package ingest

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/lysyi3m/samwatch/app/database"
	"github.com/lysyi3m/samwatch/app/samapi"
)

var descriptionURLKeys = []string{"descriptionUrl", "descriptionLink", "noticeDescriptionUrl"}

func opportunityFromRecord(r samapi.Record) database.Opportunity {
	return database.Opportunity{
		NoticeID:         r.String("noticeId"),
		Title:            r.String("title"),
		Agency:           r.String("agency", "fullParentPathName", "department"),
		SubTier:          r.String("subTier"),
		Office:           r.String("office"),
		NoticeType:       r.String("type", "baseType"),
		Status:           r.String("status"),
		PostedAt:         r.String("postedDate"),
		UpdatedAt:        r.String("updatedDate"),
		ResponseDeadline: r.String("responseDate", "responseDeadLine"),
		NAICSCodes:       naicsCodes(r),
		SetAside:         r.String("setAside", "typeOfSetAside"),
		Digest:           r.String("digest"),
		SourceModifiedAt: r.String("lastModified", "lastModifiedDate"),
	}
}

// naicsCodes joins a scalar or list classification field with commas.
func naicsCodes(r samapi.Record) string {
	codes := r.Strings("naics", "naicsCode")
	for i, code := range codes {
		codes[i] = strings.TrimSpace(code)
	}
	return strings.Join(codes, ",")
}

func awardsFromRecord(r samapi.Record) []database.Award {
	entries := r.Records("awards", "award")
	awards := make([]database.Award, 0, len(entries))
	for _, a := range entries {
		awards = append(awards, database.Award{
			AwardType:   a.String("type", "awardType"),
			Date:        a.String("date", "awardDate"),
			Description: a.String("description", "awardDescription"),
			Amount:      parseAmount(a.Value("amount", "obligatedAmount")),
			VendorName:  a.String("vendorName", "recipientName", "recipient"),
			VendorDUNS:  a.String("vendorDuns", "recipientDuns", "recipientUniqueId"),
		})
	}
	return awards
}

func contactsFromRecord(r samapi.Record) []database.Contact {
	entries := r.Records("contacts", "pointOfContact")
	contacts := make([]database.Contact, 0, len(entries))
	for _, c := range entries {
		contacts = append(contacts, database.Contact{
			Name:  c.String("fullName", "name"),
			Type:  c.String("type"),
			Email: c.String("email"),
			Phone: c.String("phone"),
		})
	}
	return contacts
}

// parseAmount accepts numbers and numeric strings such as "1,250.00".
func parseAmount(v any) *float64 {
	s := strings.TrimSpace(samapi.Stringify(v))
	if s == "" {
		return nil
	}
	s = strings.TrimPrefix(strings.ReplaceAll(s, ",", ""), "$")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// inlineDescription returns the description carried in the record itself,
// either as a string or as an object with a text field.
func inlineDescription(r samapi.Record) string {
	switch v := r.Value("description", "noticeDescription").(type) {
	case string:
		if isURL(v) {
			return ""
		}
		return v
	case map[string]any:
		return samapi.Record(v).String("text", "body")
	default:
		return ""
	}
}

// descriptionURLs lists the candidate locations of a remote description. The
// description field itself is included when the source put a link there.
func descriptionURLs(r samapi.Record) []string {
	var urls []string
	if s, ok := r.Value("description").(string); ok && isURL(s) {
		urls = append(urls, s)
	}
	for _, key := range descriptionURLKeys {
		if s := r.String(key); s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}

type attachmentLink struct {
	URL      string
	FileName string
	SHA256   string
	Bytes    *int64
}

func attachmentLinks(r samapi.Record) []attachmentLink {
	var links []attachmentLink
	switch v := r.Value("resourceLinks").(type) {
	case []any:
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				if entry != "" {
					links = append(links, attachmentLink{URL: entry, FileName: fileNameFromURL(entry)})
				}
			case map[string]any:
				if link, ok := linkFromRecord(entry); ok {
					links = append(links, link)
				}
			}
		}
	case map[string]any:
		if link, ok := linkFromRecord(v); ok {
			links = append(links, link)
		}
	}
	return links
}

func linkFromRecord(entry samapi.Record) (attachmentLink, bool) {
	rawURL := entry.String("url", "href")
	if rawURL == "" {
		return attachmentLink{}, false
	}

	link := attachmentLink{
		URL:      rawURL,
		FileName: safeFileName(entry.String("fileName", "name")),
		SHA256:   entry.String("sha256"),
	}
	if link.FileName == "" {
		link.FileName = fileNameFromURL(rawURL)
	}
	if size, err := strconv.ParseInt(entry.String("size"), 10, 64); err == nil {
		link.Bytes = &size
	}
	return link, true
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "attachment"
	}
	if name := safeFileName(path.Base(u.Path)); name != "" {
		return name
	}
	return "attachment"
}

// safeFileName keeps only the last path element so a declared name cannot
// escape the notice directory.
func safeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = path.Base(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
