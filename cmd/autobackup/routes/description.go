package routes

import (
	"bytes"
	"embed"
	"encoding/xml"
	"net/http"
	"path"
	"text/template"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/ssdp"
)

const xmlContentType = "text/xml; charset=utf-8"

//go:embed resources/*.xml
var resources embed.FS

// scpdFiles are served for any GET whose last path segment matches
var scpdFiles = map[string]string{
	"ContentDirectory1.xml":  "resources/ContentDirectory1.xml",
	"ConnectionManager1.xml": "resources/ConnectionManager1.xml",
}

const deviceDescription = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0" xmlns:sec="http://www.sec.co.kr/dlna" xmlns:dlna="urn:schemas-dlna-org:device-1-0">
  <specVersion>
    <major>1</major>
    <minor>0</minor>
  </specVersion>
  <device>
    <dlna:X_DLNADOC>DMS-1.50</dlna:X_DLNADOC>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>{{esc .FriendlyName}}</friendlyName>
    <manufacturer>Samsung Electronics</manufacturer>
    <manufacturerURL>http://www.samsung.com</manufacturerURL>
    <modelDescription>Samsung PC AutoBackup</modelDescription>
    <modelName>WiselinkPro</modelName>
    <modelNumber>1.0</modelNumber>
    <modelURL>http://www.samsung.com</modelURL>
    <serialNumber>20080818WiselinkPro</serialNumber>
    <sec:ProductCap>smi,DCM10,getMediaInfo.sec,getCaptionInfo.sec</sec:ProductCap>
    <UDN>uuid:{{esc .UUID}}</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <controlURL>/upnp/control/ContentDirectory1</controlURL>
        <eventSubURL>/upnp/event/ContentDirectory1</eventSubURL>
        <SCPDURL>ContentDirectory1.xml</SCPDURL>
      </service>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ConnectionManager:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ConnectionManager</serviceId>
        <controlURL>/upnp/control/ConnectionManager1</controlURL>
        <eventSubURL>/upnp/event/ConnectionManager1</eventSubURL>
        <SCPDURL>ConnectionManager1.xml</SCPDURL>
      </service>
    </serviceList>
  </device>
</root>`

var descriptionTemplate = template.Must(template.New("description").Funcs(template.FuncMap{
	"esc": func(s string) string {
		var buf bytes.Buffer
		_ = xml.EscapeText(&buf, []byte(s))
		return buf.String()
	},
}).Parse(deviceDescription))

// DescriptionRoutes serves the device description and, through NoRoute, the
// SCPD documents. Every other unmatched request gets an empty 404.
func DescriptionRoutes(r *gin.Engine, services *Services) {
	var body bytes.Buffer
	if err := descriptionTemplate.Execute(&body, services.Config.Device); err != nil {
		// the template is fixed and the device config is plain strings
		panic(err)
	}
	description := body.Bytes()

	r.GET(ssdp.DescriptionPath, handleDescription(services, description))
	r.NoRoute(handleSCPD())
}

func handleDescription(services *Services, description []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.RemoteIP()
		userAgent := c.Request.UserAgent()

		log.Info().Str("client", client).Str("user_agent", userAgent).Msg("new connection")
		if err := services.Tracker.Remember(c.Request.Context(), client, userAgent); err != nil {
			log.Warn().Err(err).Str("client", client).Msg("failed to remember client")
		}

		c.Data(http.StatusOK, xmlContentType, description)
	}
}

func handleSCPD() gin.HandlerFunc {
	return func(c *gin.Context) {
		name, ok := scpdFiles[path.Base(c.Request.URL.Path)]
		if !ok || c.Request.Method != http.MethodGet {
			log.Error().
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("client", c.RemoteIP()).
				Msg("unhandled request")
			notFound(c)
			return
		}

		data, err := resources.ReadFile(name)
		if err != nil {
			log.Error().Err(err).Str("file", name).Msg("failed to read bundled SCPD")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, xmlContentType, data)
	}
}

// notFound answers 404 with an empty body. Aborting writes the header
// immediately, which also stops gin from adding its default 404 text.
func notFound(c *gin.Context) {
	c.AbortWithStatus(http.StatusNotFound)
}
