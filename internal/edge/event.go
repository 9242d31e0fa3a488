package edge

import "encoding/json"

// Event is a CloudFront Lambda@Edge viewer or origin request event
type Event struct {
	Records []Record `json:"Records"`
}

// Record holds the CloudFront payload of one event record
type Record struct {
	CF CloudFront `json:"cf"`
}

// CloudFront is the cf member of a record
type CloudFront struct {
	Config  Config  `json:"config"`
	Request Request `json:"request"`
}

// Config describes the distribution that received the request
type Config struct {
	DistributionDomainName string `json:"distributionDomainName,omitempty"`
	DistributionID         string `json:"distributionId,omitempty"`
	EventType              string `json:"eventType,omitempty"`
	RequestID              string `json:"requestId,omitempty"`
}

// Headers maps lower-cased header names to their values
type Headers map[string][]HeaderValue

// HeaderValue is one header value; Key preserves the original casing
type HeaderValue struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// Request is the CloudFront request. It remembers the exact JSON it was
// decoded from so a pass-through returns the request byte for byte,
// including members this type does not model.
type Request struct {
	ClientIP    string  `json:"clientIp,omitempty"`
	Method      string  `json:"method"`
	URI         string  `json:"uri"`
	QueryString string  `json:"querystring"`
	Headers     Headers `json:"headers"`
	Body        *Body   `json:"body,omitempty"`
	Origin      *Origin `json:"origin,omitempty"`

	raw json.RawMessage
}

// UnmarshalJSON decodes the request and keeps the raw document
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Request(p)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the raw document when the request was decoded from one
func (r Request) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	type plain Request
	return json.Marshal(plain(r))
}

// Body is the request body CloudFront exposes when body inclusion is enabled
type Body struct {
	InputTruncated bool   `json:"inputTruncated"`
	Action         string `json:"action,omitempty"`
	Encoding       string `json:"encoding,omitempty"`
	Data           string `json:"data,omitempty"`
}

// Origin is the origin the request is routed to. Exactly one member is set.
type Origin struct {
	S3     *OriginConfig `json:"s3,omitempty"`
	Custom *OriginConfig `json:"custom,omitempty"`
}

// OriginConfig is the origin configuration, including its custom headers
type OriginConfig struct {
	AuthMethod    string  `json:"authMethod,omitempty"`
	DomainName    string  `json:"domainName,omitempty"`
	Path          string  `json:"path"`
	Port          int     `json:"port,omitempty"`
	Protocol      string  `json:"protocol,omitempty"`
	Region        string  `json:"region,omitempty"`
	CustomHeaders Headers `json:"customHeaders"`
}

func (o *Origin) config() *OriginConfig {
	if o == nil {
		return nil
	}
	if o.S3 != nil {
		return o.S3
	}
	return o.Custom
}

// Response is a response generated at the edge
type Response struct {
	Status            string  `json:"status"`
	StatusDescription string  `json:"statusDescription,omitempty"`
	Headers           Headers `json:"headers"`
	Body              string  `json:"body,omitempty"`
	BodyEncoding      string  `json:"bodyEncoding,omitempty"`
}

// Result is what the function returns to CloudFront: either the original
// request, to continue to the origin, or a generated response.
type Result struct {
	Request  *Request
	Response *Response
}

// PassThrough reports whether the result forwards the request to the origin
func (r *Result) PassThrough() bool {
	return r.Response == nil
}

// MarshalJSON renders whichever of Request or Response is set
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Response != nil {
		return json.Marshal(r.Response)
	}
	if r.Request != nil {
		return json.Marshal(r.Request)
	}
	return []byte("null"), nil
}
