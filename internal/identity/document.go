package identity

import "strings"

// Document is the resolved DID document, in the flattened shape served by
// the PLC directory.
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	AlsoKnownAs        []string             `json:"alsoKnownAs,omitempty"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	Service            []DocumentService    `json:"service,omitempty"`
}

type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type DocumentService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

func (d *Document) Handle() string {
	for _, aka := range d.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, "at://"); ok {
			return h
		}
	}
	return ""
}

// SigningKey returns the atproto verification key in did:key form.
func (d *Document) SigningKey() string {
	for _, vm := range d.VerificationMethod {
		if strings.HasSuffix(vm.ID, "#atproto") {
			return "did:key:" + vm.PublicKeyMultibase
		}
	}
	return ""
}

func (d *Document) PDSEndpoint() string {
	for _, svc := range d.Service {
		if strings.HasSuffix(svc.ID, "#atproto_pds") {
			return svc.ServiceEndpoint
		}
	}
	return ""
}
