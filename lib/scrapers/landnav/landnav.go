// Package landnav drives LandNav-hosted county land-records portals (La
// Crosse County among them). The portal is guest-accessible but token-gated:
// a cookie handshake on the login page, a guest sign-in click in a real
// browser, then a search surface that answers both as a JSON API and as a
// rendered result grid. Tax data is pulled over both channels and combined.
package landnav

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"landrecords-backend/lib/browser"
	"landrecords-backend/lib/restyutil"
	"landrecords-backend/lib/session"
	"landrecords-backend/lib/tabular"
	"landrecords-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/landnav")

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

type ScraperOptions struct {
	BaseUrl  string
	Headless bool
	// MaxTaxYear caps the advanced search's tax year range.
	MaxTaxYear string
	Timeout    time.Duration
	// HttpDumpDir captures raw HTTP exchanges for debugging when set.
	HttpDumpDir string
}

// Scraper implements protocol.Driver against a LandNav portal.
type Scraper struct {
	baseUrl *url.URL
	http    *resty.Client
	jar     *cookiejar.Jar
	browser *browser.Browser
	session *session.Session
	opts    ScraperOptions

	sessionReady bool
	gateReady    bool

	parcelId   string
	searchData any
	propertyId string
	pageTax    map[string]any
}

func NewScraper(opts ScraperOptions) (*Scraper, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.MaxTaxYear == "" {
		opts.MaxTaxYear = fmt.Sprintf("%d", time.Now().Year())
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 30
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "scrapers/landnav/http")
	if opts.HttpDumpDir != "" {
		restyutil.InstrumentClient(client, restyutil.NewFilesystemOutput(opts.HttpDumpDir))
	}

	return &Scraper{
		baseUrl: baseUrl,
		http:    client,
		jar:     jar,
		session: session.New(),
		opts:    opts,
	}, nil
}

// syncToBrowser copies cookie state acquired on the HTTP channel into the
// browser. The counterpart of syncFromBrowser; one of the two runs between
// every pair of cross-channel steps.
func (s *Scraper) syncToBrowser() error {
	s.session.AbsorbJar(s.jar, s.baseUrl)
	return s.browser.SetCookies(s.baseUrl, s.session.Cookies())
}

func (s *Scraper) syncFromBrowser() error {
	cookies, err := s.browser.Cookies()
	if err != nil {
		return err
	}
	s.session.SetCookies(cookies)
	s.session.FeedJar(s.jar, s.baseUrl)
	return nil
}

// AcquireSession fetches the login page over HTTP to pick up the server's
// session cookies and starts the browser channel. Idempotent.
func (s *Scraper) AcquireSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:AcquireSession")
	defer span.End()

	if s.sessionReady {
		return nil
	}

	res, err := s.http.R().SetContext(ctx).Get("/login")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("login page returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.session.AbsorbJar(s.jar, s.baseUrl)

	if s.browser == nil {
		b, err := browser.New(ctx, browser.Options{
			Headless:  s.opts.Headless,
			NoSandbox: true,
			Timeout:   s.opts.Timeout,
			UserAgent: userAgent,
		})
		if err != nil {
			span.SetStatus(codes.Error, "failed to start browser")
			return err
		}
		s.browser = b
	}

	s.sessionReady = true
	return nil
}

var guestLoginSelectors = []browser.Selector{
	browser.XPath("//button[@type='submit' and contains(text(), 'Accept and Sign In')]"),
	browser.XPath("//button[contains(@class, 'btn-primary') and contains(text(), 'Accept and Sign In')]"),
	browser.XPath("//form[@id='GuestLoginForm']//button[@type='submit']"),
	browser.CSS("button.btn-primary[type='submit']"),
}

// CompleteGate clicks through the guest sign-in form in the browser, with
// the HTTP channel's cookies installed first so both channels share one
// server-side session afterwards. Idempotent.
func (s *Scraper) CompleteGate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:CompleteGate")
	defer span.End()

	if s.gateReady {
		return nil
	}

	loginUrl := s.baseUrl.JoinPath("/login").String()
	if err := s.browser.Navigate(loginUrl); err != nil {
		span.SetStatus(codes.Error, "failed to open login page")
		return err
	}
	if err := s.syncToBrowser(); err != nil {
		span.SetStatus(codes.Error, "failed to install session cookies")
		return err
	}
	// reload so the page sees the installed cookies
	if err := s.browser.Navigate(loginUrl); err != nil {
		span.SetStatus(codes.Error, "failed to reload login page")
		return err
	}

	sel, err := s.browser.Find(guestLoginSelectors, 0)
	if err != nil {
		span.SetStatus(codes.Error, "guest login button not found")
		return fmt.Errorf("guest login button: %w", err)
	}
	if err := s.browser.Click(sel); err != nil {
		span.SetStatus(codes.Error, "failed to click guest login")
		return err
	}

	if err := s.syncFromBrowser(); err != nil {
		span.SetStatus(codes.Error, "failed to read browser cookies")
		return err
	}

	s.gateReady = true
	return nil
}

// searchForm is the full advanced-search form the portal expects. Fields the
// portal requires present-but-empty are spelled out rather than omitted.
func (s *Scraper) searchForm(parcelId string) map[string]string {
	return map[string]string{
		"IsAdvancedSearch":           "true",
		"TaxYearSearchType":          "0",
		"MinTaxYear":                 "",
		"MaxTaxYear":                 s.opts.MaxTaxYear,
		"MunicipalityCode":           "",
		"LastName":                   "",
		"FirstName":                  "",
		"MiddleName":                 "",
		"OwnerStatus":                "3",
		"AddressSearchType":          "0",
		"HouseNumber":                "",
		"HouseNumberSuffix":          "",
		"PrefixDirection":            "",
		"StreetName":                 "",
		"StreetType":                 "",
		"SuffixDirection":            "",
		"UnitType":                   "",
		"UnitNumber":                 "",
		"UserDefinedIdSearchType":    "0",
		"MinUserDefinedId":           parcelId,
		"MaxUserDefinedId":           "",
		"PropertyNumberListInput":    "",
		"UserDefinedId2SearchType":   "0",
		"MinUserDefinedId2":          "",
		"MaxUserDefinedId2":          "",
		"AltPropertyNumberListInput": "",
		"PlatCode":                   "",
		"PlatDescription":            "",
		"Block":                      "",
		"LotTypeName":                "",
		"Lot":                        "",
		"Section":                    "",
		"Township":                   "",
		"TownshipDirection":          "0",
		"Range":                      "",
		"RangeDirection":             "1",
		"Quarter40":                  "",
		"Quarter160":                 "",
		"GovernmentLot":              "",
		"pagination[page]":           "1",
		"pagination[perpage]":        "100",
		"query":                      "",
	}
}

var parcelInputSelectors = []browser.Selector{
	browser.CSS("input[name='MinUserDefinedId'][data-mask-type='ParcelNumber']"),
	browser.CSS("input.form-control[name='MinUserDefinedId']"),
	browser.CSS("input[name='MinUserDefinedId']"),
	browser.CSS("input[data-mask-type='ParcelNumber']"),
	browser.XPath("//input[@name='MinUserDefinedId']"),
}

var searchButtonSelectors = []browser.Selector{
	browser.CSS("button#SearchButton"),
	browser.CSS("button.btn-primary[type='submit']"),
	browser.XPath("//button[@id='SearchButton']"),
	browser.XPath("//button[contains(@class, 'btn-primary') and @type='submit']"),
}

// SubmitSearch runs the parcel search on both channels: the JSON API call
// whose payload feeds normalization, and the browser form whose result grid
// carries the property id. A browser-side failure here is tolerated; the API
// payload can still resolve the id.
func (s *Scraper) SubmitSearch(ctx context.Context, parcelId string) error {
	ctx, span := tracer.Start(ctx, "scraper:SubmitSearch")
	defer span.End()

	s.parcelId = parcelId
	s.searchData = nil
	s.propertyId = ""
	s.pageTax = nil

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Origin", s.opts.BaseUrl).
		SetHeader("Referer", s.baseUrl.JoinPath("/Search/RealEstate/Search").String()).
		SetFormData(s.searchForm(parcelId)).
		Post("/Search/RealEstate/Search/Search")
	if err != nil {
		span.SetStatus(codes.Error, "search request failed")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("search returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var payload map[string]any
	if err := json.Unmarshal(res.Body(), &payload); err == nil {
		s.searchData = payload
	} else {
		// some deployments answer the search with a rendered fragment
		s.searchData = map[string]any{"html": res.String()}
	}

	if err := s.browserSearch(ctx, parcelId); err != nil {
		span.RecordError(err)
		span.AddEvent("browser search failed, continuing with API payload")
	}
	return nil
}

func (s *Scraper) browserSearch(ctx context.Context, parcelId string) error {
	ctx, span := tracer.Start(ctx, "scraper:browserSearch")
	defer span.End()

	searchUrl := s.baseUrl.JoinPath("/Search/RealEstate/Search").String()
	if err := s.browser.Navigate(searchUrl); err != nil {
		return err
	}

	input, err := s.browser.Find(parcelInputSelectors, 0)
	if err != nil {
		return fmt.Errorf("parcel input: %w", err)
	}
	if err := s.browser.SetValue(input, parcelId); err != nil {
		return err
	}

	button, err := s.browser.Find(searchButtonSelectors, 0)
	if err != nil {
		return fmt.Errorf("search button: %w", err)
	}
	if err := s.browser.Click(button); err != nil {
		return err
	}
	return s.syncFromBrowser()
}

// ResolvePropertyID reads the site-internal property id out of the result
// grid's first row (its element id is "row_<propertyId>"), falling back to
// the API payload when the grid did not render.
func (s *Scraper) ResolvePropertyID(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "scraper:ResolvePropertyID")
	defer span.End()

	rowSel := browser.CSS("tr.kt-datatable__row")
	if _, err := s.browser.Find([]browser.Selector{rowSel}, 10*time.Second); err == nil {
		rowId, ok, err := s.browser.AttrOf(rowSel, "id")
		if err == nil && ok && strings.HasPrefix(rowId, "row_") {
			s.propertyId = strings.TrimPrefix(rowId, "row_")
			return s.propertyId, nil
		}
	}

	if id := propertyIdFromSearch(s.searchData, s.parcelId); id != "" {
		s.propertyId = id
		return id, nil
	}

	err := fmt.Errorf("no property id for parcel %q in result grid or API payload", s.parcelId)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

var propertyIdKeys = []string{"PropertyId", "propertyId", "PropertyID", "Id", "id"}
var parcelNumberKeys = []string{"UserDefinedId", "userDefinedId", "ParcelNumber", "parcelNumber"}

// propertyIdFromSearch picks the entry matching the parcel number exactly,
// or failing that the first record, and reads its property id field.
func propertyIdFromSearch(searchData any, parcelId string) string {
	payload, ok := searchData.(map[string]any)
	if !ok {
		return ""
	}
	var entries []map[string]any
	switch data := payload["data"].(type) {
	case []any:
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
	case map[string]any:
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				entries = append(entries, m)
			}
		}
	}
	if len(entries) == 0 {
		return ""
	}

	target := entries[0]
	want := strings.TrimSpace(parcelId)
	for _, entry := range entries {
		for _, key := range parcelNumberKeys {
			if v, ok := entry[key]; ok && strings.TrimSpace(stringify(v)) == want {
				target = entry
				break
			}
		}
	}
	for _, key := range propertyIdKeys {
		if v, ok := target[key]; ok {
			if id := stringify(v); id != "" {
				return id
			}
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return ""
	}
}

var taxesTabSelectors = []browser.Selector{
	browser.CSS("a[data-tab='Taxes']"),
	browser.CSS("a.nav-link[href*='Taxes']"),
	browser.XPath("//a[@data-tab='Taxes']"),
	browser.XPath("//li[@class='nav-item']//a[contains(@href, 'Taxes')]"),
}

// NavigateToTaxView clicks the result row and its Taxes tab; when either
// click fails it falls back to loading the tax page URL directly, which the
// portal accepts once the session is authorized.
func (s *Scraper) NavigateToTaxView(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:NavigateToTaxView")
	defer span.End()

	if err := s.clickThroughToTaxes(); err != nil {
		span.RecordError(err)
		span.AddEvent("row click failed, navigating directly")
		direct := s.baseUrl.JoinPath("/Search/RealEstate/Taxes")
		q := direct.Query()
		q.Set("propertyId", s.propertyId)
		direct.RawQuery = q.Encode()
		if err := s.browser.Navigate(direct.String()); err != nil {
			span.SetStatus(codes.Error, "direct tax page navigation failed")
			return err
		}
	}
	return s.syncFromBrowser()
}

func (s *Scraper) clickThroughToTaxes() error {
	rowSel := browser.CSS(fmt.Sprintf("tr[id='row_%s']", s.propertyId))
	if _, err := s.browser.Find([]browser.Selector{rowSel, browser.CSS("tr.kt-datatable__row")}, 0); err != nil {
		return err
	}
	if err := s.browser.Click(rowSel); err != nil {
		return err
	}

	tab, err := s.browser.Find(taxesTabSelectors, 0)
	if err != nil {
		return fmt.Errorf("taxes tab: %w", err)
	}
	return s.browser.Click(tab)
}

// Extract pulls tax data over both channels and combines them: the rendered
// page the browser is sitting on, and the tax endpoint fetched over HTTP
// with the shared session. Either source alone is enough to produce output.
func (s *Scraper) Extract(ctx context.Context) (any, any, error) {
	ctx, span := tracer.Start(ctx, "scraper:Extract")
	defer span.End()

	pageTax := s.extractPage()
	if pageTax == nil {
		span.AddEvent("page tax extraction failed")
	}
	apiTax, apiErr := s.extractApi(ctx)
	if apiErr != nil {
		span.RecordError(apiErr)
		span.AddEvent("api tax extraction failed")
	}

	if pageTax == nil && apiTax == nil {
		err := fmt.Errorf("both extraction channels failed for property %s", s.propertyId)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	var taxData map[string]any
	switch {
	case pageTax != nil && apiTax != nil:
		taxData = map[string]any{
			"property_id":    s.propertyId,
			"page_extracted": pageTax,
			"api_extracted":  apiTax,
			"installments":   append(anyList(pageTax["installments"]), anyList(apiTax["installments"])...),
			"unpaid_taxes":   append(anyList(pageTax["unpaid_taxes"]), anyList(apiTax["unpaid_taxes"])...),
		}
	case apiTax != nil:
		taxData = apiTax
	default:
		taxData = map[string]any{
			"property_id":    s.propertyId,
			"page_extracted": pageTax,
		}
	}
	return s.searchData, taxData, nil
}

func (s *Scraper) extractPage() map[string]any {
	html, err := s.browser.Document()
	if err != nil {
		return nil
	}
	return classifyTaxMarkup(html)
}

func (s *Scraper) extractApi(ctx context.Context) (map[string]any, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Referer", s.baseUrl.JoinPath("/Search/RealEstate/General").String()).
		SetQueryParam("propertyId", s.propertyId).
		SetFormData(map[string]string{"propertyId": s.propertyId}).
		Post("/Search/RealEstate/Taxes")
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("tax endpoint returned status %d", res.StatusCode())
	}

	taxData := classifyTaxMarkup(res.String())
	taxData["property_id"] = s.propertyId
	return taxData, nil
}

// classifyTaxMarkup turns every table in the markup into loosely typed
// records bucketed as installments or unpaid taxes. Rows matching neither
// cue set but carrying an amount still count as installment candidates.
func classifyTaxMarkup(html string) map[string]any {
	installments := []any{}
	unpaid := []any{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		for _, table := range tabular.ExtractTables(doc) {
			for _, row := range table.Rows {
				class := tabular.Classify(table.Headers, row)
				record := tabular.RowMap(table.Headers, row)
				if class.Installment || class.Financial {
					installments = append(installments, record)
				}
				if class.Delinquent {
					unpaid = append(unpaid, record)
				}
			}
		}
	}

	return map[string]any{
		"installments": installments,
		"unpaid_taxes": unpaid,
		"html":         html,
	}
}

func anyList(v any) []any {
	list, _ := v.([]any)
	return list
}

func (s *Scraper) Close(ctx context.Context) error {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	return nil
}
