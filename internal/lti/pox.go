package lti

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

/*
IMS Basic Outcomes POX envelopes (LTI 1.1 grade passback). The format is
fixed enough that plain encoding/xml structs cover both directions; only the
replaceResult operation is implemented, matching what classroom platforms
actually send.
*/

const poxNamespace = "http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0"

// poxRequest is the inbound envelope, inbound-field subset only.
type poxRequest struct {
	XMLName xml.Name `xml:"imsx_POXEnvelopeRequest"`
	Header  struct {
		Info struct {
			Version           string `xml:"imsx_version"`
			MessageIdentifier string `xml:"imsx_messageIdentifier"`
		} `xml:"imsx_POXRequestHeaderInfo"`
	} `xml:"imsx_POXHeader"`
	Body struct {
		ReplaceResult *struct {
			Record struct {
				SourcedGUID struct {
					SourcedID string `xml:"sourcedId"`
				} `xml:"sourcedGUID"`
				Result struct {
					Score struct {
						Language   string `xml:"language"`
						TextString string `xml:"textString"`
					} `xml:"resultScore"`
				} `xml:"result"`
			} `xml:"resultRecord"`
		} `xml:"replaceResultRequest"`
		ReadResult   *struct{} `xml:"readResultRequest"`
		DeleteResult *struct{} `xml:"deleteResultRequest"`
	} `xml:"imsx_POXBody"`
}

func parsePOXRequest(body []byte) (*poxRequest, error) {
	var req poxRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("lti: bad POX envelope: %w", err)
	}
	return &req, nil
}

// score returns the replaceResult score as a float in [0,1], or an error for
// missing/unparseable/out-of-range values.
func (r *poxRequest) score() (float64, error) {
	if r.Body.ReplaceResult == nil {
		return 0, fmt.Errorf("lti: not a replaceResult request")
	}
	raw := r.Body.ReplaceResult.Record.Result.Score.TextString
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("lti: bad resultScore %q", raw)
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("lti: resultScore %v outside [0,1]", f)
	}
	return f, nil
}

// poxResponse renders the outbound acknowledgement. codeMajor is "success"
// or "failure"; description stays generic by contract.
func poxResponse(codeMajor, description, messageRef, operation string) []byte {
	const tmpl = xml.Header + `<imsx_POXEnvelopeResponse xmlns="%s">
  <imsx_POXHeader>
    <imsx_POXResponseHeaderInfo>
      <imsx_version>V1.0</imsx_version>
      <imsx_messageIdentifier>%s</imsx_messageIdentifier>
      <imsx_statusInfo>
        <imsx_codeMajor>%s</imsx_codeMajor>
        <imsx_severity>status</imsx_severity>
        <imsx_description>%s</imsx_description>
        <imsx_messageRefIdentifier>%s</imsx_messageRefIdentifier>
        <imsx_operationRefIdentifier>%s</imsx_operationRefIdentifier>
      </imsx_statusInfo>
    </imsx_POXResponseHeaderInfo>
  </imsx_POXHeader>
  <imsx_POXBody>
    <%sResponse/>
  </imsx_POXBody>
</imsx_POXEnvelopeResponse>
`
	return []byte(fmt.Sprintf(tmpl, poxNamespace,
		xmlEscape(randHex(8)), xmlEscape(codeMajor), xmlEscape(description),
		xmlEscape(messageRef), xmlEscape(operation), operation))
}

// buildReplaceResultXML is the outbound request we send to a consumer's
// outcome service when pushing a grade.
func buildReplaceResultXML(sourcedID string, score float64) []byte {
	const tmpl = xml.Header + `<imsx_POXEnvelopeRequest xmlns="%s">
  <imsx_POXHeader>
    <imsx_POXRequestHeaderInfo>
      <imsx_version>V1.0</imsx_version>
      <imsx_messageIdentifier>%s</imsx_messageIdentifier>
    </imsx_POXRequestHeaderInfo>
  </imsx_POXHeader>
  <imsx_POXBody>
    <replaceResultRequest>
      <resultRecord>
        <sourcedGUID>
          <sourcedId>%s</sourcedId>
        </sourcedGUID>
        <result>
          <resultScore>
            <language>en</language>
            <textString>%s</textString>
          </resultScore>
        </result>
      </resultRecord>
    </replaceResultRequest>
  </imsx_POXBody>
</imsx_POXEnvelopeRequest>
`
	return []byte(fmt.Sprintf(tmpl, poxNamespace,
		xmlEscape(randHex(8)), xmlEscape(sourcedID),
		strconv.FormatFloat(score, 'f', -1, 64)))
}

func xmlEscape(s string) string {
	var buf []byte
	for _, r := range s {
		switch r {
		case '<':
			buf = append(buf, "&lt;"...)
		case '>':
			buf = append(buf, "&gt;"...)
		case '&':
			buf = append(buf, "&amp;"...)
		case '"':
			buf = append(buf, "&quot;"...)
		case '\'':
			buf = append(buf, "&apos;"...)
		default:
			buf = append(buf, string(r)...)
		}
	}
	return string(buf)
}
