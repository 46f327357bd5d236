// Package sparql builds the query text sent to the map dataset endpoint.
package sparql

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/sparql-map-explorer/internal/core/model"
)

const (
	MapsLimit        = 25
	CollectionsLimit = 100

	// creator text at or below this many runes is treated as no filter
	minCreatorRunes = 1
)

const prefixes = `PREFIX dc: <http://purl.org/dc/elements/1.1/>
PREFIX dct: <http://purl.org/dc/terms/>
PREFIX geo: <http://www.opengis.net/ont/geosparql#>
PREFIX sem: <http://semanticweb.cs.vu.nl/2009/11/sem/>
PREFIX foaf: <http://xmlns.com/foaf/0.1/>
PREFIX wdt: <http://www.wikidata.org/prop/direct/>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>
`

var collectionsQuery = strings.TrimSpace(fmt.Sprintf(`
PREFIX dc: <http://purl.org/dc/elements/1.1/>
PREFIX dct: <http://purl.org/dc/terms/>
PREFIX xsd: <http://www.w3.org/2001/XMLSchema#>

SELECT DISTINCT ?provenance (COUNT(?map) AS ?count) WHERE {
  ?map dc:type "kaart"^^xsd:string .
  ?map dct:provenance ?provenance .
  ?map dct:spatial ?spatial .
  ?spatial dc:type "outline"^^xsd:string .
}
GROUP BY ?provenance
ORDER BY DESC(?count)
LIMIT %d`, CollectionsLimit))

// BuildCollectionsQuery returns the fixed provenance lookup query
func BuildCollectionsQuery() string {
	return collectionsQuery
}

// BuildMapsQuery compiles f into the maps query.
// Output is a pure function of f.
func BuildMapsQuery(f model.FilterState) string {
	var b strings.Builder
	b.Grow(1024)

	b.WriteString(prefixes)
	b.WriteString("\nSELECT ?map ?img ?title ?provenance ?creator ?begin ?km2 WHERE {\n")
	line(&b, "?map dct:spatial ?spatial .")
	line(&b, "?map foaf:depiction ?img .")
	line(&b, "?map dc:title ?title .")
	line(&b, "?map dct:provenance ?provenance .")
	if clause := collectionsClause(f.Collections); clause != "" {
		line(&b, clause)
	}

	if clause := creatorClause(f.Creator); clause != "" {
		line(&b, "?map dc:creator ?creator .")
		line(&b, clause)
	} else {
		line(&b, "OPTIONAL { ?map dc:creator ?creator }")
	}

	b.WriteString("\n")
	line(&b, "?map sem:hasBeginTimeStamp ?begin .")
	line(&b, "FILTER (year(xsd:dateTime(?begin)) >= "+strconv.Itoa(f.Period.Start)+")")
	line(&b, "FILTER (year(xsd:dateTime(?begin)) <= "+strconv.Itoa(f.Period.End)+")")

	b.WriteString("\n")
	line(&b, `?spatial dc:type "outline"^^xsd:string .`)
	line(&b, "?spatial geo:hasGeometry/geo:asWKT ?wkt .")
	line(&b, "?spatial wdt:P2046 ?km2 .")
	line(&b, fmt.Sprintf(`BIND (bif:st_geomfromtext("%s") AS ?point)`, PointWKT(f.Coordinates)))
	line(&b, "BIND (bif:st_geomfromtext(?wkt) AS ?outline)")
	line(&b, "FILTER (bif:st_intersects(?point, ?outline))")
	b.WriteString("}\n")
	b.WriteString("ORDER BY ASC(?km2)\n")
	b.WriteString("LIMIT " + strconv.Itoa(MapsLimit))
	return b.String()
}

func line(b *strings.Builder, s string) {
	b.WriteString("  ")
	b.WriteString(s)
	b.WriteByte('\n')
}

func collectionsClause(cols []string) string {
	switch len(cols) {
	case 0:
		return ""
	case 1:
		return "FILTER (?provenance = " + QuoteLiteral(cols[0]) + ")"
	}
	lits := make([]string, len(cols))
	for i, c := range cols {
		lits[i] = QuoteLiteral(c)
	}
	return "FILTER (?provenance IN (" + strings.Join(lits, ", ") + "))"
}

func creatorClause(creator string) string {
	if utf8.RuneCountInString(creator) <= minCreatorRunes {
		return ""
	}
	return `FILTER (regex(str(?creator), ` + QuoteLiteral(creator) + `, "i"))`
}

// QuoteLiteral renders s as a double-quoted SPARQL string literal.
// Every untrusted value interpolated into a query goes through here.
func QuoteLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// PointWKT renders c as a WKT point in lng/lat axis order, rounded to 5 decimals
func PointWKT(c model.Coordinates) string {
	return "POINT(" + FormatCoord(c.Lng) + " " + FormatCoord(c.Lat) + ")"
}

// FormatCoord rounds v to 5 decimals and prints the shortest plain numeral
func FormatCoord(v float64) string {
	r := math.Round(v*1e5) / 1e5
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Fingerprint identifies a query text; stable across processes
func Fingerprint(query string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(query))
}

// DebugLink builds the deep link opening query in the endpoint's web editor
func DebugLink(debugBase, endpoint, query string) string {
	var b strings.Builder
	b.WriteString(debugBase)
	b.WriteString("#query=")
	b.WriteString(encodeComponent(query))
	b.WriteString("&contentTypeConstruct=text%2Fturtle")
	b.WriteString("&contentTypeSelect=application%2Fsparql-results%2Bjson")
	b.WriteString("&endpoint=")
	b.WriteString(encodeComponent(endpoint))
	b.WriteString("&requestMethod=POST&tabTitle=Query&headers=%7B%7D&outputFormat=table")
	return b.String()
}

// like encodeURIComponent: spaces become %20, not +
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
