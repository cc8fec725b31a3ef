package http_api

import (
	"net/url"
	"strings"
)

const DefaultQRServiceURL = "https://api.qrserver.com/v1/create-qr-code/"

// PaymentQRURL returns an image URL encoding data as a 260x260 QR code.
func PaymentQRURL(service, data string) string {
	sep := "?"
	if strings.Contains(service, "?") {
		sep = "&"
	}
	return service + sep + "size=260x260&data=" + url.QueryEscape(data)
}
