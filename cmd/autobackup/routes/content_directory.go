package routes

import (
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/didl"
	"github.com/lgulliver/autobackup/internal/metrics"
	"github.com/lgulliver/autobackup/internal/soap"
)

// ControlPath is the ContentDirectory control URL advertised in the description
const ControlPath = "/upnp/control/ContentDirectory1"

// maxSOAPBody bounds a CreateObject request; real ones are a few KB
const maxSOAPBody = 1 << 20

// ContentDirectoryRoutes sets up the SOAP control endpoint
func ContentDirectoryRoutes(r *gin.Engine, services *Services) {
	r.POST(ControlPath, handleControl(services))
}

func handleControl(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("SOAPACTION")
		action, err := soap.ParseAction(header)
		if err != nil {
			log.Error().Str("soapaction", header).Str("client", c.RemoteIP()).Msg("unhandled soapaction")
			metrics.RecordAction(soap.ActionUnknown.String(), "rejected")
			notFound(c)
			return
		}

		client := c.RemoteIP()
		userAgent := knownUserAgent(c, services)

		switch action {
		case soap.ActionStart:
			log.Info().Str("client", client).Str("user_agent", userAgent).Msg("starting backup")
			writeSOAP(c, action, soap.StartResponse())

		case soap.ActionDone:
			log.Info().Str("client", client).Str("user_agent", userAgent).Msg("backup complete")
			writeSOAP(c, action, soap.DoneResponse())

		case soap.ActionCreateObject:
			handleCreateObject(c, services, client)
		}
	}
}

func handleCreateObject(c *gin.Context, services *Services, client string) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSOAPBody))
	if err != nil {
		log.Error().Err(err).Str("client", client).Msg("failed to read CreateObject request")
		metrics.RecordAction(soap.ActionCreateObject.String(), "rejected")
		notFound(c)
		return
	}

	meta, err := didl.ParseRequest(body)
	if err != nil {
		event := log.Error().Err(err).Str("client", client)
		if errors.Is(err, didl.ErrNoElements) || errors.Is(err, didl.ErrMissingResource) {
			event = event.Bytes("body", body)
		}
		event.Msg("failed to parse CreateObject request")
		metrics.RecordAction(soap.ActionCreateObject.String(), "rejected")
		notFound(c)
		return
	}

	obj, err := services.Registry.CreateObject(meta, client)
	if err != nil {
		log.Error().Err(err).Str("client", client).Str("name", meta.Name).Msg("failed to create backup object")
		metrics.RecordAction(soap.ActionCreateObject.String(), "failed")
		notFound(c)
		return
	}

	log.Info().
		Str("object_id", obj.ObjectID).
		Str("name", obj.Name).
		Str("content_type", obj.ContentType()).
		Int64("size", obj.Size).
		Msg("ready to receive object")

	importURI := soap.ImportURI(localHost(c, services), services.Config.Server.Port, obj.ObjectID)
	writeSOAP(c, soap.ActionCreateObject, soap.CreateObjectResponse(obj, importURI))
}

func writeSOAP(c *gin.Context, action soap.Action, body []byte) {
	metrics.RecordAction(action.String(), "ok")
	c.Data(http.StatusOK, xmlContentType, body)
}

// localHost is the local address of the connection the request arrived on
func localHost(c *gin.Context, services *Services) string {
	if addr, ok := c.Request.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if tcp, ok := addr.(*net.TCPAddr); ok && !tcp.IP.IsUnspecified() {
			if ip4 := tcp.IP.To4(); ip4 != nil {
				return ip4.String()
			}
			return tcp.IP.String()
		}
	}
	if services.Config.Device.Interface != "" {
		return services.Config.Device.Interface
	}
	if host, _, err := net.SplitHostPort(c.Request.Host); err == nil {
		return host
	}
	return c.Request.Host
}

// knownUserAgent prefers the user agent recorded when the client fetched the
// description, falling back to the one on this request
func knownUserAgent(c *gin.Context, services *Services) string {
	session, err := services.Tracker.Lookup(c.Request.Context(), c.RemoteIP())
	if err != nil || session.UserAgent == "" {
		return c.Request.UserAgent()
	}
	return session.UserAgent
}
