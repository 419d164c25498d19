// Package soap decodes the ContentDirectory actions the camera sends and
// renders the responses it expects. The response text is kept byte for byte
// identical to the vendor server; the camera rejects anything else.
package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/anacrolix/dms/upnp"

	"github.com/lgulliver/autobackup/pkg/types"
)

// ErrUnknownAction is returned for a SOAPACTION this server does not implement
var ErrUnknownAction = errors.New("unknown soap action")

// Action is a decoded SOAPACTION header
type Action int

const (
	ActionUnknown Action = iota
	ActionStart
	ActionCreateObject
	ActionDone
)

// ContentDirectoryURN is the only service the camera talks to
const ContentDirectoryURN = "urn:schemas-upnp-org:service:ContentDirectory:1"

var actionNames = map[string]Action{
	"X_BACKUP_START": ActionStart,
	"CreateObject":   ActionCreateObject,
	"X_BACKUP_DONE":  ActionDone,
}

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "X_BACKUP_START"
	case ActionCreateObject:
		return "CreateObject"
	case ActionDone:
		return "X_BACKUP_DONE"
	default:
		return "unknown"
	}
}

// Header returns the exact SOAPACTION value the camera sends for a
func (a Action) Header() string {
	return `"` + ContentDirectoryURN + "#" + a.String() + `"`
}

// ParseAction decodes a SOAPACTION header value. The value must be quoted
// and name ContentDirectory:1; anything else is ActionUnknown.
func ParseAction(header string) (Action, error) {
	sa, err := upnp.ParseActionHTTPHeader(header)
	if err != nil || sa.Action == "" {
		return ActionUnknown, ErrUnknownAction
	}
	if sa.ServiceURN.String() != ContentDirectoryURN {
		return ActionUnknown, ErrUnknownAction
	}
	action, ok := actionNames[sa.Action]
	if !ok {
		return ActionUnknown, ErrUnknownAction
	}
	// the camera never varies the spelling; reject anything that only parses
	if header != action.Header() {
		return ActionUnknown, ErrUnknownAction
	}
	return action, nil
}

const backupResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:X_BACKUP_{{.}}Response xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1"/>
  </s:Body>
</s:Envelope>`

const createObjectResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:CreateObjectResponse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">
      <ObjectID>{{esc .ObjectID}}</ObjectID>
      <Result>&lt;DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp='urn:schemas-upnp-org:metadata-1-0/upnp/' xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/" xmlns:sec="http://www.sec.co.kr/"&gt;&lt;item id="{{esc2 .ObjectID}}" parentID="{{esc2 .ParentID}}" restricted="0" dlna:dlnaManaged="00000004"&gt;&lt;dc:title&gt;&lt;/dc:title&gt;&lt;res protocolInfo="http-get:*:{{esc2 .ContentType}}:DLNA.ORG_PN=JPEG_LRG;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=00D00000000000000000000000000000" importUri="{{esc2 .ImportURI}}" dlna:resumeUpload="0" dlna:uploadedSize="0" size="{{.Size}}"&gt;&lt;/res&gt;&lt;upnp:class&gt;{{esc2 .Class}}&lt;/upnp:class&gt;&lt;/item&gt;&lt;/DIDL-Lite&gt;</Result>
    </u:CreateObjectResponse>
  </s:Body>
</s:Envelope>`

func escape(s string) string {
	var buf strings.Builder
	// strings.Builder never fails
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var templates = template.Must(template.New("backup").Parse(backupResponse))

func init() {
	template.Must(templates.New("createObject").Funcs(template.FuncMap{
		"esc":  escape,
		"esc2": func(s string) string { return escape(escape(s)) },
	}).Parse(createObjectResponse))
}

// StartResponse is the reply to X_BACKUP_START
func StartResponse() []byte {
	return render("backup", "START")
}

// DoneResponse is the reply to X_BACKUP_DONE
func DoneResponse() []byte {
	return render("backup", "DONE")
}

// UploadPath is the route the camera POSTs object content to
const UploadPath = "/cd/content"

// ImportURI is the upload address advertised for objectID. host is the
// address the camera reached this server on.
func ImportURI(host string, port int, objectID string) string {
	return fmt.Sprintf("http://%s:%d%s?didx=0_id=%s", host, port, UploadPath, objectID)
}

type createObjectData struct {
	ObjectID    string
	ParentID    string
	ContentType string
	Class       string
	Size        int64
	ImportURI   string
}

// CreateObjectResponse renders the reply to CreateObject for obj. importURI
// is where the camera will POST the file.
func CreateObjectResponse(obj *types.PendingObject, importURI string) []byte {
	class := obj.Class
	if class == "" {
		class = types.DefaultObjectClass
	}
	return render("createObject", createObjectData{
		ObjectID:    obj.ObjectID,
		ParentID:    obj.ParentID,
		ContentType: obj.ContentType(),
		Class:       class,
		Size:        obj.Size,
		ImportURI:   importURI,
	})
}

func render(name string, data interface{}) []byte {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		// templates are fixed and their data is plain strings
		panic(err)
	}
	return buf.Bytes()
}
