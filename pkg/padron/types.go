// Package padron queries the taxpayer registry (Padrón A13) with a WSAA credential.
package padron

import "strings"

// ServiceName is the WSAA service the registry credential is requested for.
const ServiceName = "ws_sr_padron_a13"

// Persona is a registry record for one taxpayer.
type Persona struct {
	ID                string     `json:"cuit"`
	Type              string     `json:"tipoPersona,omitempty"`
	FirstName         string     `json:"nombre,omitempty"`
	LastName          string     `json:"apellido,omitempty"`
	LegalName         string     `json:"razonSocial,omitempty"`
	DocumentNumber    string     `json:"numeroDocumento,omitempty"`
	DocumentType      string     `json:"tipoDocumento,omitempty"`
	KeyStatus         string     `json:"estadoClave,omitempty"`
	PrimaryActivity   string     `json:"actividadPrincipal,omitempty"`
	PrimaryActivityID string     `json:"codigoActividad,omitempty"`
	ClosingMonth      string     `json:"mesCierre,omitempty"`
	BirthDate         string     `json:"fechaNacimiento,omitempty"`
	Domiciles         []Domicile `json:"domicilios"`
}

// Domicile is one address registered for a taxpayer.
type Domicile struct {
	Address    string `json:"direccion,omitempty"`
	Street     string `json:"calle,omitempty"`
	Number     string `json:"numero,omitempty"`
	Locality   string `json:"localidad,omitempty"`
	PostalCode string `json:"codigoPostal,omitempty"`
	Province   string `json:"provincia,omitempty"`
	ProvinceID string `json:"idProvincia,omitempty"`
	Type       string `json:"tipoDomicilio,omitempty"`
}

// DomicileTypeFiscal marks the taxpayer's fiscal address.
const DomicileTypeFiscal = "FISCAL"

// DisplayName returns the legal name for companies, "Apellido, Nombre" otherwise.
func (p *Persona) DisplayName() string {
	if p.LegalName != "" {
		return p.LegalName
	}
	switch {
	case p.LastName != "" && p.FirstName != "":
		return p.LastName + ", " + p.FirstName
	case p.LastName != "":
		return p.LastName
	default:
		return p.FirstName
	}
}

// FiscalDomicile returns the fiscal address, falling back to the first one.
func (p *Persona) FiscalDomicile() (Domicile, bool) {
	for _, d := range p.Domiciles {
		if strings.EqualFold(d.Type, DomicileTypeFiscal) {
			return d, true
		}
	}
	if len(p.Domiciles) > 0 {
		return p.Domiciles[0], true
	}
	return Domicile{}, false
}

type personaXML struct {
	IDPersona                     string        `xml:"idPersona"`
	TipoPersona                   string        `xml:"tipoPersona"`
	Nombre                        string        `xml:"nombre"`
	Apellido                      string        `xml:"apellido"`
	RazonSocial                   string        `xml:"razonSocial"`
	NumeroDocumento               string        `xml:"numeroDocumento"`
	TipoDocumento                 string        `xml:"tipoDocumento"`
	EstadoClave                   string        `xml:"estadoClave"`
	DescripcionActividadPrincipal string        `xml:"descripcionActividadPrincipal"`
	IDActividadPrincipal          string        `xml:"idActividadPrincipal"`
	MesCierre                     string        `xml:"mesCierre"`
	FechaNacimiento               string        `xml:"fechaNacimiento"`
	Domicilios                    []domicilioXML `xml:"domicilio"`
}

type domicilioXML struct {
	Direccion            string `xml:"direccion"`
	Calle                string `xml:"calle"`
	Numero               string `xml:"numero"`
	Localidad            string `xml:"localidad"`
	CodigoPostal         string `xml:"codigoPostal"`
	DescripcionProvincia string `xml:"descripcionProvincia"`
	IDProvincia          string `xml:"idProvincia"`
	TipoDomicilio        string `xml:"tipoDomicilio"`
}

func (x personaXML) toPersona() *Persona {
	p := &Persona{
		ID:                strings.TrimSpace(x.IDPersona),
		Type:              x.TipoPersona,
		FirstName:         x.Nombre,
		LastName:          x.Apellido,
		LegalName:         x.RazonSocial,
		DocumentNumber:    x.NumeroDocumento,
		DocumentType:      x.TipoDocumento,
		KeyStatus:         x.EstadoClave,
		PrimaryActivity:   x.DescripcionActividadPrincipal,
		PrimaryActivityID: x.IDActividadPrincipal,
		ClosingMonth:      x.MesCierre,
		BirthDate:         x.FechaNacimiento,
		Domiciles:         make([]Domicile, 0, len(x.Domicilios)),
	}
	for _, d := range x.Domicilios {
		p.Domiciles = append(p.Domiciles, Domicile{
			Address:    d.Direccion,
			Street:     d.Calle,
			Number:     d.Numero,
			Locality:   d.Localidad,
			PostalCode: d.CodigoPostal,
			Province:   d.DescripcionProvincia,
			ProvinceID: d.IDProvincia,
			Type:       d.TipoDomicilio,
		})
	}
	return p
}
