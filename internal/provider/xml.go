package provider

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Wire DTOs for the upstream catalog. Numeric attributes are kept as
// strings and parsed by the mapper so that one malformed record drops that
// record instead of failing the whole document. Unknown elements and
// attributes are ignored by encoding/xml, which keeps us compatible with
// upstream schema drift.

type planList struct {
	XMLName xml.Name `xml:"planList"`
	Output  output   `xml:"output"`
}

type output struct {
	BasePlans []basePlan `xml:"base_plan"`
}

type basePlan struct {
	SellMode string `xml:"sell_mode,attr"`
	Title    string `xml:"title,attr"`
	Plans    []plan `xml:"plan"`
}

type plan struct {
	StartDate string `xml:"plan_start_date,attr"`
	EndDate   string `xml:"plan_end_date,attr"`
	Zones     []zone `xml:"zone"`
}

type zone struct {
	Capacity string `xml:"capacity,attr"`
	Price    string `xml:"price,attr"`
}

func decodePlanList(r io.Reader) (*planList, error) {
	var doc planList
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding plan list: %w", err)
	}
	return &doc, nil
}
