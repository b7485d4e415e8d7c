package ldbws

import "encoding/xml"

const (
	nsSoap  = "http://schemas.xmlsoap.org/soap/envelope/"
	nsToken = "http://thalesgroup.com/RTTI/2013-11-28/Token/types"
	nsLDB   = "http://thalesgroup.com/RTTI/2017-10-01/ldb/"

	actionPrefix         = "http://thalesgroup.com/RTTI/2015-05-14/ldb/"
	actionNextDepartures = "GetNextDeparturesWithDetails"
	actionDepBoard       = "GetDepBoardWithDetails"
)

// Запрос. Префиксы пространств имён прописаны в именах элементов,
// потому что encoding/xml не умеет назначать их сам.

type requestEnvelope struct {
	XMLName xml.Name      `xml:"soap:Envelope"`
	Soap    string        `xml:"xmlns:soap,attr"`
	Typ     string        `xml:"xmlns:typ,attr"`
	LDB     string        `xml:"xmlns:ldb,attr"`
	Header  requestHeader `xml:"soap:Header"`
	Body    requestBody   `xml:"soap:Body"`
}

type requestHeader struct {
	Token string `xml:"typ:AccessToken>typ:TokenValue"`
}

type requestBody struct {
	Content any
}

type nextDeparturesRequest struct {
	XMLName    xml.Name `xml:"ldb:GetNextDeparturesWithDetailsRequest"`
	CRS        string   `xml:"ldb:crs"`
	FilterList []string `xml:"ldb:filterList>ldb:crs"`
	TimeOffset int      `xml:"ldb:timeOffset"`
}

type depBoardRequest struct {
	XMLName   xml.Name `xml:"ldb:GetDepBoardWithDetailsRequest"`
	NumRows   int      `xml:"ldb:numRows"`
	CRS       string   `xml:"ldb:crs"`
	FilterCRS string   `xml:"ldb:filterCrs,omitempty"`
}

func newEnvelope(token string, content any) requestEnvelope {
	return requestEnvelope{
		Soap:   nsSoap,
		Typ:    nsToken,
		LDB:    nsLDB,
		Header: requestHeader{Token: token},
		Body:   requestBody{Content: content},
	}
}

// Ответ. Сопоставление идёт по локальным именам элементов.

type responseEnvelope struct {
	Body struct {
		Fault *soapFault       `xml:"Fault"`
		Next  *departuresBoard `xml:"GetNextDeparturesWithDetailsResponse>DeparturesBoard"`
		Board *stationBoard    `xml:"GetDepBoardWithDetailsResponse>GetStationBoardResult"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type departuresBoard struct {
	LocationName string             `xml:"locationName"`
	CRS          string             `xml:"crs"`
	Departures   []departureForDest `xml:"departures>destination"`
}

type departureForDest struct {
	CRS     string       `xml:"crs,attr"`
	Service *serviceItem `xml:"service"`
}

type stationBoard struct {
	LocationName string        `xml:"locationName"`
	CRS          string        `xml:"crs"`
	Services     []serviceItem `xml:"trainServices>service"`
}

type serviceItem struct {
	STD          string         `xml:"std"`
	ETD          string         `xml:"etd"`
	STA          string         `xml:"sta"`
	ETA          string         `xml:"eta"`
	Platform     string         `xml:"platform"`
	ServiceType  string         `xml:"serviceType"`
	IsCancelled  bool           `xml:"isCancelled"`
	CancelReason string         `xml:"cancelReason"`
	DelayReason  string         `xml:"delayReason"`
	Origin       []location     `xml:"origin>location"`
	Destination  []location     `xml:"destination>location"`
	CallingPoint []callingPoint `xml:"subsequentCallingPoints>callingPointList>callingPoint"`
}

type location struct {
	Name string `xml:"locationName"`
	CRS  string `xml:"crs"`
}

type callingPoint struct {
	Name string `xml:"locationName"`
	CRS  string `xml:"crs"`
	ST   string `xml:"st"`
	ET   string `xml:"et"`
}
