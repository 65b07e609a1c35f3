package greenlake

import (
	"encoding/xml"
	"strings"
)

// parcelNamespace is the data-contract namespace the parcel service tags
// its view models with.
const parcelNamespace = "http://schemas.datacontract.org/2004/07/LRS.Providers.ServiceViewModels.PropertyListing.RealEstateTaxParcel"

type xmlNode struct {
	XMLName  xml.Name
	Content  string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

func parseXML(body string) (*xmlNode, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(body), &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// flatten reduces an element to a map of its leaf children: local tag name
// to trimmed text. Nested containers are skipped; the service keeps the
// fields we care about one level deep.
func flatten(node xmlNode) map[string]any {
	out := map[string]any{}
	for _, child := range node.Children {
		if len(child.Children) > 0 {
			continue
		}
		out[child.XMLName.Local] = strings.TrimSpace(child.Content)
	}
	return out
}

// collectNamed walks the tree and flattens every element with the given
// local name in the parcel namespace, falling back to a name-only match
// when the service omits the namespace.
func collectNamed(root *xmlNode, local string) []map[string]any {
	var out []map[string]any
	var walk func(node xmlNode)
	walk = func(node xmlNode) {
		if node.XMLName.Local == local &&
			(node.XMLName.Space == parcelNamespace || node.XMLName.Space == "") {
			out = append(out, flatten(node))
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(*root)
	return out
}

// wrapperNames are result envelopes the tax bill service nests its fields
// under. Flattening descends through them.
var wrapperNames = map[string]bool{
	"TaxBillVm":        true,
	"TaxBillResultsVm": true,
}

// flattenThroughWrappers flattens the root element, descending into known
// envelope elements so their fields surface at the top level.
func flattenThroughWrappers(root *xmlNode) map[string]any {
	out := map[string]any{}
	var walk func(node xmlNode)
	walk = func(node xmlNode) {
		for _, child := range node.Children {
			switch {
			case wrapperNames[child.XMLName.Local]:
				walk(child)
			case len(child.Children) == 0:
				out[child.XMLName.Local] = strings.TrimSpace(child.Content)
			}
		}
	}
	walk(*root)
	return out
}
