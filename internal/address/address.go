// Package address formats OSM addr:* tags the way a UK envelope would show
// them, leaving missing parts visible.
package address

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	DefaultCity     = "[TOWN/CITY]"
	DefaultPostcode = "[Postcode]"

	Intro = "Here is the address as it would appear on an envelope using the strict method " +
		"designed to highlight addr:* tag issues in OpenStreetMap:"
	Footnote = "The commas and any parts in [square brackets] have been added in post processing outside of OSM."

	// IntroLink is the wiki page describing the tag-to-envelope rules.
	IntroLink = "https://wiki.openstreetmap.org/wiki/Addresses_in_the_United_Kingdom#Tags_to_envelope"
)

type Card struct {
	Intro    string   `json:"intro"`
	Lines    []string `json:"lines"`
	Footnote string   `json:"footnote"`
}

// parts holds the recognised tags; a nil field means the tag is absent.
type parts struct {
	unit, housename, housenumber *string
	place, substreet, street     *string
	parentstreet, suburb         *string
	city, postcode               string
}

func read(tags map[string]string) parts {
	p := parts{city: DefaultCity, postcode: DefaultPostcode}
	get := func(k string) *string {
		if v, ok := tags[k]; ok {
			return &v
		}
		return nil
	}
	p.unit = get("addr:unit")
	p.housename = get("addr:housename")
	p.housenumber = get("addr:housenumber")
	p.place = get("addr:place")
	p.substreet = get("addr:substreet")
	p.street = get("addr:street")
	p.parentstreet = get("addr:parentstreet")
	p.suburb = get("addr:suburb")
	if v, ok := tags["addr:city"]; ok {
		p.city = strings.ToUpper(v)
	}
	if v, ok := tags["addr:postcode"]; ok {
		p.postcode = v
	}
	return p
}

// Format builds the envelope lines from tags. A tag that is present counts
// as set even when its value is empty.
func Format(tags map[string]string) Card {
	p := read(tags)

	if p.place != nil && (p.substreet == nil || *p.place != *p.substreet) {
		s := *p.place
		if p.substreet != nil {
			s = *p.place + " " + *p.substreet
		}
		p.substreet = &s
	}

	var lines []string
	switch {
	case p.unit != nil && p.housename != nil:
		lines = append(lines, *p.unit+" "+*p.housename+",")
	case p.housename != nil:
		lines = append(lines, *p.housename+",")
	case p.unit != nil:
		lines = append(lines, *p.unit+",")
	}

	street := p.substreet
	if street == nil {
		street = p.street
	}
	if street != nil {
		if p.housenumber != nil {
			lines = append(lines, *p.housenumber+" "+*street+",")
		} else {
			lines = append(lines, *street+",")
		}
	}

	if p.parentstreet != nil {
		lines = append(lines, *p.parentstreet+",")
	}
	if p.suburb != nil {
		lines = append(lines, *p.suburb+",")
	}
	lines = append(lines, p.city, p.postcode)

	return Card{Intro: Intro, Lines: lines, Footnote: Footnote}
}

var (
	envelope = lipgloss.Color("#f1d592")
	ink      = lipgloss.Color("#1a1a1a")
)

var envelopeStyle = lipgloss.NewStyle().
	Background(envelope).
	Foreground(ink).
	Border(lipgloss.ThickBorder()).
	BorderForeground(envelope).
	Padding(0, 2, 1, 1)

var stampStyle = lipgloss.NewStyle().
	Background(envelope).
	Foreground(ink).
	Border(lipgloss.NormalBorder()).
	BorderForeground(ink).
	Align(lipgloss.Center).
	Padding(0, 1)

var noteStyle = lipgloss.NewStyle().Faint(true)

// Render draws the card as an envelope with a stamp box, width columns wide.
func (c Card) Render(width int) string {
	width = max(width, 24)
	env := envelopeStyle.Width(width - envelopeStyle.GetHorizontalBorderSize())
	inner := width - env.GetHorizontalFrameSize()

	stamp := stampStyle.Render("affix\nstamp\nhere")
	top := lipgloss.PlaceHorizontal(inner, lipgloss.Right, stamp,
		lipgloss.WithWhitespaceBackground(envelope))
	addr := lipgloss.NewStyle().Background(envelope).Foreground(ink).Width(inner).
		Render(strings.Join(c.Lines, "\n"))
	card := env.Render(lipgloss.JoinVertical(lipgloss.Left, top, addr))

	intro := lipgloss.NewStyle().Width(width).Render(c.Intro)
	note := noteStyle.Width(width).Render(c.Footnote)
	return lipgloss.JoinVertical(lipgloss.Left, intro, "", card, "", note)
}

// Text joins the address lines without styling.
func (c Card) Text() string {
	return strings.Join(c.Lines, "\n")
}
