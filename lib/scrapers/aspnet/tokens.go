package aspnet

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// tokenFields is the full set of WebForms state fields the server validates
// on every postback. Values rotate per response; whichever the latest
// response carried must be echoed back verbatim.
var tokenFields = []string{
	"__VIEWSTATE",
	"__VIEWSTATEGENERATOR",
	"__EVENTVALIDATION",
	"__VIEWSTATEENCRYPTED",
	"__PREVIOUSPAGE",
	"__EVENTARGUMENT",
	"__EVENTTARGET",
	"__LASTFOCUS",
	"__SCROLLPOSITIONX",
	"__SCROLLPOSITIONY",
	toolkitField,
}

const toolkitField = "ctl00_cphMainApp_ToolkitScriptManager1_HiddenField"

// ExtractTokens pulls the WebForms hidden fields out of a page. Fields that
// are present but empty come back as empty strings; fields absent from the
// markup are absent from the result, so merging never clobbers a live token
// with a missing one.
func ExtractTokens(html string) map[string]string {
	tokens := map[string]string{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return tokens
	}
	doc.Find("input[type='hidden']").Each(func(_ int, input *goquery.Selection) {
		name, ok := input.Attr("name")
		if !ok {
			name, ok = input.Attr("id")
		}
		if !ok {
			return
		}
		for _, field := range tokenFields {
			if name == field {
				tokens[field] = input.AttrOr("value", "")
				return
			}
		}
	})
	return tokens
}

// ParseAjaxDelta unwraps a MicrosoftAjax partial-postback response
// ("1|#||4|81358|updatePanel|ctl00_cphMainApp_upSearch|<markup>") down to
// the markup of the updated panel. Full-page responses pass through.
func ParseAjaxDelta(body string) string {
	if !strings.Contains(body, "|updatePanel|") {
		return body
	}
	_, rest, _ := strings.Cut(body, "|updatePanel|")
	if _, markup, found := strings.Cut(rest, "|"); found {
		return markup
	}
	return rest
}
