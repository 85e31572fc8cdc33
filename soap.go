package onvif

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/elgs/gostrgen"
	"github.com/juju/errors"
)

// Fault is a SOAP fault returned by a device.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
	// StatusCode is the HTTP status the fault arrived with.
	StatusCode int
}

func (f *Fault) Error() string {
	if f.Subcode != "" {
		return fmt.Sprintf("SOAP fault %s: %s", f.Subcode, f.Reason)
	}

	return fmt.Sprintf("SOAP fault %s: %s", f.Code, f.Reason)
}

// NotAuthorized reports whether the device rejected the credentials.
func (f *Fault) NotAuthorized() bool {
	return strings.HasSuffix(f.Subcode, "NotAuthorized")
}

// UnknownSubscription reports whether the subscription no longer exists.
func (f *Fault) UnknownSubscription() bool {
	return strings.HasSuffix(f.Subcode, "ResourceUnknownFault")
}

// generatePasswordDigest creates WS-Security password digest
func generatePasswordDigest(password string) (digest, nonce, created string, err error) {
	created = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	raw, err := gostrgen.RandGen(20, gostrgen.Lower|gostrgen.Upper|gostrgen.Digit, "", "")
	if err != nil {
		return "", "", "", errors.Annotate(err, "generating nonce")
	}

	h := sha1.New()
	h.Write([]byte(raw))
	h.Write([]byte(created))
	h.Write([]byte(password))

	digest = base64.StdEncoding.EncodeToString(h.Sum(nil))
	nonce = base64.StdEncoding.EncodeToString([]byte(raw))

	return digest, nonce, created, nil
}

// securityHeader renders the UsernameToken header, or "" without a username.
func (c *Client) securityHeader() (string, error) {
	if c.Username == "" {
		return "", nil
	}

	digest, nonce, created, err := generatePasswordDigest(c.Password)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`
		<Security xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
			<UsernameToken>
				<Username>%s</Username>
				<Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</Password>
				<Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</Nonce>
				<Created xmlns="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</Created>
			</UsernameToken>
		</Security>`, escapeXML(c.Username), digest, nonce, created), nil
}

// sendSOAPRequest posts a SOAP request and returns the first element of the
// response Body. Faults are returned as *Fault errors.
func (c *Client) sendSOAPRequest(ctx context.Context, endpoint, action, header, body string) (*etree.Element, error) {
	security, err := c.securityHeader()
	if err != nil {
		return nil, err
	}

	soapRequest := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"
            xmlns:wsa="http://www.w3.org/2005/08/addressing"
            xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
            xmlns:tev="http://www.onvif.org/ver10/events/wsdl"
            xmlns:tmd="http://www.onvif.org/ver10/deviceIO/wsdl"
            xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
            xmlns:tt="http://www.onvif.org/ver10/schema">
	<s:Header>%s%s</s:Header>
	<s:Body>%s</s:Body>
</s:Envelope>`, security, header, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, errors.Annotatef(err, "building request for %s", endpoint)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "calling %s", action)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "reading response")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(respBody); err != nil {
		// Some devices answer errors with an empty or non-XML body
		if resp.StatusCode >= 400 {
			return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}

		return nil, errors.Annotate(err, "parsing response")
	}

	content := doc.FindElement("/Envelope/Body/*")

	if fault := parseSOAPFault(content); fault != nil {
		fault.StatusCode = resp.StatusCode
		return nil, fault
	}

	if resp.StatusCode >= 400 {
		return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if content == nil {
		return nil, errors.NotValidf("response without Body content")
	}

	return content, nil
}

func (c *Client) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if c.InsecureTLS {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// parseSOAPFault decodes a Fault element, or returns nil for anything else
func parseSOAPFault(el *etree.Element) *Fault {
	if el == nil || el.Tag != "Fault" {
		return nil
	}

	fault := &Fault{}

	if v := el.FindElement("Code/Value"); v != nil {
		fault.Code = strings.TrimSpace(v.Text())
	}

	if v := el.FindElement("Code/Subcode/Value"); v != nil {
		fault.Subcode = strings.TrimSpace(v.Text())
	}

	if v := el.FindElement("Reason/Text"); v != nil {
		fault.Reason = strings.TrimSpace(v.Text())
	} else if v := el.FindElement("faultstring"); v != nil {
		// SOAP 1.1
		fault.Reason = strings.TrimSpace(v.Text())
	}

	return fault
}

// childText returns the trimmed text of the element at path, or ""
func childText(el *etree.Element, path string) string {
	if el == nil {
		return ""
	}

	if v := el.FindElement(path); v != nil {
		return strings.TrimSpace(v.Text())
	}

	return ""
}

// escapeXML escapes special XML characters in a string
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// serviceURL replaces the path of a device service address
func serviceURL(deviceAddr, path string) string {
	addr := getFirstAddress(deviceAddr)
	if i := strings.Index(addr, "://"); i >= 0 {
		if j := strings.Index(addr[i+3:], "/"); j >= 0 {
			addr = addr[:i+3+j]
		}
	}

	return addr + path
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
