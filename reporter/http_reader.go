// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/shopkit/checkout-go/checkout"
)

type HttpReader struct {
	baseURL string
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{baseURL: "http://" + serverIP + ":" + serverPort}
}

// NewHttpReaderFromURL reads from a full base url, e.g. an httptest server.
func NewHttpReaderFromURL(baseURL string) *HttpReader {
	return &HttpReader{baseURL: baseURL}
}

// read returns the status code and body of a response.
func read(resp *http.Response, err error) (int, string, error) {
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

func (hr *HttpReader) query(route string, id string) string {
	return hr.baseURL + route + "?id=" + url.QueryEscape(id)
}

func (hr *HttpReader) GetHello() (string, error) {
	_, body, err := read(http.Get(hr.baseURL + ROUTE_HELLO))
	return body, err
}

func (hr *HttpReader) PostCheckout(req *checkout.Request) (int, string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, "", err
	}
	return read(http.Post(hr.baseURL+ROUTE_CHECKOUT, "application/json", bytes.NewReader(payload)))
}

func (hr *HttpReader) GetSession(id string) (int, string, error) {
	return read(http.Get(hr.query(ROUTE_SESSION, id)))
}

func (hr *HttpReader) CancelSession(id string) (int, string, error) {
	return read(http.Post(hr.query(ROUTE_SESSION_CANCEL, id), "application/json", nil))
}

func (hr *HttpReader) GetOrder(id string) (int, string, error) {
	return read(http.Get(hr.query(ROUTE_ORDER, id)))
}

func (hr *HttpReader) GetNotifications(orderId string) (int, string, error) {
	return read(http.Get(hr.query(ROUTE_NOTIFICATIONS, orderId)))
}

func (hr *HttpReader) GetMetrics() (int, string, error) {
	return read(http.Get(hr.baseURL + ROUTE_METRICS))
}
