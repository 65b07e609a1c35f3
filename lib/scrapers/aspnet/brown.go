// Package aspnet drives ASP.NET WebForms land-records sites (Brown County).
// WebForms couples every request to server-side page state through a set of
// hidden tokens (__VIEWSTATE and friends) that rotate per response, so the
// whole flow is a chain of postbacks: accept the terms page, post the parcel
// search through a MicrosoftAjax partial update, then trigger the Taxes
// LinkButton postback and read the resulting tables.
package aspnet

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"landrecords-backend/lib/browser"
	"landrecords-backend/lib/coerce"
	"landrecords-backend/lib/htmlutil"
	"landrecords-backend/lib/restyutil"
	"landrecords-backend/lib/session"
	"landrecords-backend/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/aspnet")

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

const taxesLinkTarget = "ctl00$cphMainApp$SearchDetailsParcel$LinkButtonTaxes"

type ScraperOptions struct {
	BaseUrl  string
	Headless bool
	Timeout  time.Duration
	// HttpDumpDir captures raw HTTP exchanges for debugging when set.
	HttpDumpDir string
}

// Scraper implements protocol.Driver against a WebForms portal.
type Scraper struct {
	baseUrl *url.URL
	http    *resty.Client
	jar     *cookiejar.Jar
	browser *browser.Browser
	session *session.Session
	opts    ScraperOptions

	sessionReady bool
	gateReady    bool

	parcelId string
	// markup captured from the search postback's HTTP response
	searchDelta string
	// markup captured after the taxes postback, per channel
	taxDelta string
	taxPage  string
}

func NewScraper(opts ScraperOptions) (*Scraper, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
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

	telemetry.InstrumentResty(client, "scrapers/aspnet/http")
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

func (s *Scraper) mergeTokensFrom(markup string) {
	s.session.MergeTokens(ExtractTokens(ParseAjaxDelta(markup)))
}

// tokenForm seeds a postback form with the current token state. Every
// postback starts from this and layers its own fields on top.
func (s *Scraper) tokenForm() map[string]string {
	form := map[string]string{
		toolkitField:           s.session.Token(toolkitField),
		"__LASTFOCUS":          s.session.Token("__LASTFOCUS"),
		"__EVENTTARGET":        s.session.Token("__EVENTTARGET"),
		"__EVENTARGUMENT":      s.session.Token("__EVENTARGUMENT"),
		"__VIEWSTATE":          s.session.Token("__VIEWSTATE"),
		"__VIEWSTATEGENERATOR": s.session.Token("__VIEWSTATEGENERATOR"),
		"__VIEWSTATEENCRYPTED": s.session.Token("__VIEWSTATEENCRYPTED"),
		"__EVENTVALIDATION":    s.session.Token("__EVENTVALIDATION"),
		"__SCROLLPOSITIONX":    "0",
		"__SCROLLPOSITIONY":    "0",
	}
	return form
}

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

// AcquireSession fetches the search page to pick up the session cookie and
// the first generation of WebForms tokens, then starts the browser channel.
func (s *Scraper) AcquireSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:AcquireSession")
	defer span.End()

	if s.sessionReady {
		return nil
	}

	res, err := s.http.R().SetContext(ctx).Get("/Search.aspx")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch search page")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("search page returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.session.AbsorbJar(s.jar, s.baseUrl)
	s.mergeTokensFrom(res.String())

	if s.session.Token("__VIEWSTATE") == "" {
		err := fmt.Errorf("no __VIEWSTATE token on search page, session unusable")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

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

// CompleteGate posts the terms acceptance on the HTTP channel and clicks the
// same button in the browser, so both channels move past the entry page.
func (s *Scraper) CompleteGate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:CompleteGate")
	defer span.End()

	if s.gateReady {
		return nil
	}

	form := s.tokenForm()
	form["ctl00$cphMainApp$pageWidth"] = "1890"
	form["ctl00$cphMainApp$pageHeight"] = "1034"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$PropertyType"] = "optRealEstate"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$ddlOwnerStatus"] = "ALLBUTFORMER"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$cbCurrentProperties"] = "on"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$cbHistoricalProperties"] = "on"
	form["ctl00$cphMainApp$btnEntryPageAccept"] = "I Accept"

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/")
	if err != nil {
		span.SetStatus(codes.Error, "terms acceptance post failed")
		return err
	}
	s.mergeTokensFrom(res.String())

	if err := s.acceptInBrowser(); err != nil {
		// HTTP acceptance alone carries the session past the gate
		span.RecordError(err)
		span.AddEvent("browser-side acceptance failed, relying on HTTP channel")
	}

	s.gateReady = true
	return nil
}

func (s *Scraper) acceptInBrowser() error {
	if err := s.browser.Navigate(s.baseUrl.String()); err != nil {
		return err
	}
	if err := s.syncToBrowser(); err != nil {
		return err
	}
	if err := s.browser.Navigate(s.baseUrl.String()); err != nil {
		return err
	}

	accept := browser.CSS("#ctl00_cphMainApp_btnEntryPageAccept")
	if _, err := s.browser.Find([]browser.Selector{accept}, 0); err != nil {
		return fmt.Errorf("accept button: %w", err)
	}
	if err := s.browser.Click(accept); err != nil {
		return err
	}

	page, err := s.browser.Document()
	if err != nil {
		return err
	}
	s.mergeTokensFrom(page)
	return s.syncFromBrowser()
}

// SubmitSearch posts the parcel search as a MicrosoftAjax partial postback
// and mirrors it in the browser. Tokens rotate on both channels; both
// generations are merged, newest last.
func (s *Scraper) SubmitSearch(ctx context.Context, parcelId string) error {
	ctx, span := tracer.Start(ctx, "scraper:SubmitSearch")
	defer span.End()

	s.parcelId = parcelId
	s.searchDelta = ""
	s.taxDelta = ""
	s.taxPage = ""

	form := s.tokenForm()
	form["ctl00$cphMainApp$ToolkitScriptManager1"] = "ctl00$cphMainApp$upSearch|ctl00$cphMainApp$ButtonParcelSearch"
	form["__EVENTTARGET"] = "cphMainApp$ButtonParcelSearch"
	form["__EVENTARGUMENT"] = ""
	form["ctl00$cphMainApp$pageWidth"] = "1149"
	form["ctl00$cphMainApp$pageHeight"] = "1034"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$PropertyType"] = "optRealEstate"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$mtxtParcelNumber"] = parcelId
	form["ctl00$cphMainApp$ParcelSearchCriteria1$mtxtAltParcelNumber"] = ""
	form["ctl00$cphMainApp$ParcelSearchCriteria1$ddlOwnerStatus"] = "ALLBUTFORMER"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$DropDownListPlatType"] = "All"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$DropDownListPlatDesc"] = "All"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$cbCurrentProperties"] = "on"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$cbHistoricalProperties"] = "on"
	form["ctl00$cphMainApp$ButtonParcelSearch"] = "Search For Properties"

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8").
		SetHeader("X-MicrosoftAjax", "Delta=true").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Referer", s.baseUrl.String()+"/").
		SetHeader("Origin", s.opts.BaseUrl).
		SetFormData(form).
		Post("/Search.aspx")
	if err != nil {
		span.SetStatus(codes.Error, "search postback failed")
		return err
	}
	if res.IsError() {
		err := fmt.Errorf("search postback returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.searchDelta = ParseAjaxDelta(res.String())
	s.mergeTokensFrom(res.String())

	if err := s.searchInBrowser(parcelId); err != nil {
		span.RecordError(err)
		span.AddEvent("browser search failed, continuing on HTTP channel")
	}
	return nil
}

func (s *Scraper) searchInBrowser(parcelId string) error {
	loc, err := s.browser.Location()
	if err != nil {
		return err
	}
	if !strings.Contains(loc, "Search.aspx") {
		if err := s.browser.Navigate(s.baseUrl.JoinPath("/Search.aspx").String()); err != nil {
			return err
		}
		if err := s.syncFromBrowser(); err != nil {
			return err
		}
	}

	input := browser.CSS("#mtxtParcelNumber")
	if _, err := s.browser.Find([]browser.Selector{input, browser.CSS("input[id$='mtxtParcelNumber']")}, 0); err != nil {
		return fmt.Errorf("parcel input: %w", err)
	}
	if err := s.browser.SetValue(input, parcelId); err != nil {
		return err
	}

	button := browser.CSS("#ButtonParcelSearch")
	if _, err := s.browser.Find([]browser.Selector{button, browser.CSS("input[id$='ButtonParcelSearch'], a[id$='ButtonParcelSearch']")}, 0); err != nil {
		return fmt.Errorf("search button: %w", err)
	}
	if err := s.browser.Click(button); err != nil {
		return err
	}

	page, err := s.browser.Document()
	if err != nil {
		return err
	}
	s.mergeTokensFrom(page)
	return s.syncFromBrowser()
}

// propertyIdFromMarkup reads the parcel number the details view echoes in
// its header table. The details view renders the taxes link even when the
// header table is formatted differently, so its presence also confirms
// resolution.
func propertyIdFromMarkup(markup, parcelId string) (string, bool) {
	if markup == "" {
		return "", false
	}
	details := extractPropertyDetails(markup)
	if number, ok := details["parcel_number"]; ok {
		return coerce.Stringify(number), true
	}
	if strings.Contains(markup, "LinkButtonTaxes") {
		return parcelId, true
	}
	return "", false
}

// ResolvePropertyID confirms the search resolved to a parcel details view
// and returns the parcel number the site echoes there. WebForms keys the
// details to server-side page state rather than a URL id, so the echoed
// parcel number doubles as the property identifier. The rendered browser
// page is preferred; when it lacks the details view the delta from the
// HTTP search postback is read instead.
func (s *Scraper) ResolvePropertyID(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "scraper:ResolvePropertyID")
	defer span.End()

	page, err := s.browser.Document()
	if err != nil {
		span.RecordError(err)
		span.AddEvent("failed to read result page, falling back to search delta")
		page = ""
	}
	if id, ok := propertyIdFromMarkup(page, s.parcelId); ok {
		return id, nil
	}
	if id, ok := propertyIdFromMarkup(s.searchDelta, s.parcelId); ok {
		return id, nil
	}

	err = fmt.Errorf("search for parcel %q did not reach a details view", s.parcelId)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

// NavigateToTaxView triggers the Taxes LinkButton postback on both
// channels: a click (or page-side __doPostBack) in the browser, and the
// equivalent async postback over HTTP.
func (s *Scraper) NavigateToTaxView(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "scraper:NavigateToTaxView")
	defer span.End()

	if err := s.clickTaxesLink(ctx); err != nil {
		span.RecordError(err)
		span.AddEvent("browser taxes click failed, relying on HTTP postback")
	} else {
		page, err := s.browser.Document()
		if err == nil {
			s.taxPage = page
			s.mergeTokensFrom(page)
		}
		if err := s.syncFromBrowser(); err != nil {
			span.RecordError(err)
		}
	}

	form := s.tokenForm()
	form["__EVENTTARGET"] = taxesLinkTarget
	form["__EVENTARGUMENT"] = ""
	form["__SCROLLPOSITIONY"] = "170"
	form["ctl00$cphMainApp$ParcelSearchCriteria1$PropertyType"] = "optRealEstate"
	form["__ASYNCPOST"] = "true"

	res, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetHeader("Referer", s.baseUrl.JoinPath("/Search.aspx").String()).
		SetHeader("Origin", s.opts.BaseUrl).
		SetFormData(form).
		Post("/Search.aspx")
	if err != nil {
		if s.taxPage == "" {
			span.SetStatus(codes.Error, "taxes postback failed on both channels")
			return err
		}
		span.RecordError(err)
		return nil
	}
	s.taxDelta = ParseAjaxDelta(res.String())
	s.mergeTokensFrom(res.String())
	return nil
}

func (s *Scraper) clickTaxesLink(ctx context.Context) error {
	link := browser.CSS("#LinkButtonTaxes")
	if _, err := s.browser.Find([]browser.Selector{link, browser.CSS("a[id$='LinkButtonTaxes']")}, 0); err == nil {
		if err := s.browser.Click(link); err == nil {
			return nil
		}
	}

	// the link may point at a __doPostBack target instead of being
	// directly clickable; recover the target from the page's anchors
	target := taxesLinkTarget
	if page, err := s.browser.Document(); err == nil {
		if t := postbackTargetFor(ctx, page, "Taxes"); t != "" {
			target = t
		}
	}
	return s.browser.Evaluate(fmt.Sprintf(
		"WebForm_DoPostBackWithOptions(new WebForm_PostBackOptions(%q, '', true, '', '', false, true));",
		target,
	))
}

var postbackPrefix = "javascript:__doPostBack('"

// postbackTargetFor scans the page's anchors for one whose text matches
// name and unwraps its __doPostBack target.
func postbackTargetFor(ctx context.Context, page, name string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}
	for _, anchor := range htmlutil.GetAnchors(ctx, doc.Find("a")) {
		if !strings.EqualFold(anchor.Name, name) {
			continue
		}
		if rest, found := strings.CutPrefix(anchor.Href, postbackPrefix); found {
			target, _, _ := strings.Cut(rest, "'")
			return target
		}
	}
	return ""
}

// Extract reads the tax tables from whichever channel produced markup,
// preferring the fully rendered browser page, and distills installments,
// delinquency evidence and penalty/interest totals out of them.
func (s *Scraper) Extract(ctx context.Context) (any, any, error) {
	ctx, span := tracer.Start(ctx, "scraper:Extract")
	defer span.End()

	markup := s.taxPage
	if markup == "" {
		markup = s.taxDelta
	}
	if markup == "" {
		err := fmt.Errorf("no tax markup captured for parcel %s", s.parcelId)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	taxData := parseTaxMarkup(markup)
	taxData["property_id"] = s.parcelId

	searchData := map[string]any{
		"data": []any{searchEntryFromDetails(s.parcelId, extractPropertyDetails(markup))},
	}
	return searchData, taxData, nil
}

func (s *Scraper) Close(ctx context.Context) error {
	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	return nil
}
