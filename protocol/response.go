package protocol

import (
	"encoding/xml"
	"strings"
)

// Response answers exactly one command, matched by TransactionID.
type Response struct {
	XMLName       xml.Name `xml:"response"`
	Command       string   `xml:"command,attr"`
	TransactionID int      `xml:"transaction_id,attr"`
	Status        string   `xml:"status,attr"`
	Reason        string   `xml:"reason,attr"`
	Success       string   `xml:"success,attr"`
	ID            string   `xml:"id,attr"`
	State         string   `xml:"state,attr"`
	Depth         int      `xml:"depth,attr"`
	FeatureName   string   `xml:"feature_name,attr"`
	Supported     string   `xml:"supported,attr"`
	Encoding      string   `xml:"encoding,attr"`
	More          string   `xml:"more,attr"`
	Prompt        string   `xml:"prompt,attr"`

	Breakpoints []Breakpoint `xml:"breakpoint"`
	Spawnpoints []Spawnpoint `xml:"spawnpoint"`
	Stack       []StackLevel `xml:"stack"`
	Contexts    []Context    `xml:"context"`
	Properties  []Property   `xml:"property"`
	Types       []TypeMap    `xml:"map"`
	Error       *ErrorBody   `xml:"error"`
	Content     string       `xml:",chardata"`

	raw []byte
}

func (r *Response) Kind() Kind   { return KindResponse }
func (r *Response) Body() []byte { return r.raw }

// Err returns the engine reported error, or nil.
func (r *Response) Err() error {
	if r.Error == nil {
		return nil
	}

	return &ProtocolError{
		Code:          r.Error.Code,
		Message:       strings.TrimSpace(r.Error.Message),
		Command:       r.Command,
		TransactionID: r.TransactionID,
	}
}

func (r *Response) Succeeded() bool {
	return r.Success == "1"
}

func (r *Response) IsSupported() bool {
	return r.Supported == "1"
}

// Text returns the response content, base64 decoded when the engine says so.
func (r *Response) Text() (string, error) {
	return decodeText(r.Encoding, r.Content)
}

type ErrorBody struct {
	Code    int    `xml:"code,attr"`
	AppErr  string `xml:"apperr,attr"`
	Message string `xml:"message"`
}

type Breakpoint struct {
	ID           string `xml:"id,attr"`
	Type         string `xml:"type,attr"`
	State        string `xml:"state,attr"`
	Filename     string `xml:"filename,attr"`
	Lineno       int    `xml:"lineno,attr"`
	Function     string `xml:"function,attr"`
	Exception    string `xml:"exception,attr"`
	HitValue     int    `xml:"hit_value,attr"`
	HitCondition string `xml:"hit_condition,attr"`
	HitCount     int    `xml:"hit_count,attr"`
	Temporary    string `xml:"temporary,attr"`
	Expression   string `xml:"expression"`
}

type Spawnpoint struct {
	ID       string `xml:"id,attr"`
	State    string `xml:"state,attr"`
	Filename string `xml:"filename,attr"`
	Lineno   int    `xml:"lineno,attr"`
}

type StackLevel struct {
	Level    int    `xml:"level,attr"`
	Type     string `xml:"type,attr"`
	Filename string `xml:"filename,attr"`
	Lineno   int    `xml:"lineno,attr"`
	Where    string `xml:"where,attr"`
	CmdBegin string `xml:"cmdbegin,attr"`
	CmdEnd   string `xml:"cmdend,attr"`
}

type Context struct {
	Name string `xml:"name,attr"`
	ID   int    `xml:"id,attr"`
}

type TypeMap struct {
	Type    string `xml:"type,attr"`
	Name    string `xml:"name,attr"`
	XSIType string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr"`
}

type Property struct {
	Name        string     `xml:"name,attr"`
	FullName    string     `xml:"fullname,attr"`
	Type        string     `xml:"type,attr"`
	ClassName   string     `xml:"classname,attr"`
	Constant    string     `xml:"constant,attr"`
	Children    string     `xml:"children,attr"`
	NumChildren int        `xml:"numchildren,attr"`
	Size        int        `xml:"size,attr"`
	Page        int        `xml:"page,attr"`
	PageSize    int        `xml:"pagesize,attr"`
	Address     string     `xml:"address,attr"`
	Key         string     `xml:"key,attr"`
	Facet       string     `xml:"facet,attr"`
	Encoding    string     `xml:"encoding,attr"`
	Properties  []Property `xml:"property"`
	Value       string     `xml:",chardata"`
}

func (p *Property) HasChildren() bool {
	return p.Children == "1"
}

// Text returns the property value, base64 decoded when needed.
func (p *Property) Text() (string, error) {
	return decodeText(p.Encoding, p.Value)
}
