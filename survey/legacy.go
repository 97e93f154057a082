package survey

import (
	"bytes"
	"encoding/json"
)

// LegacyFlatRecord is the flat payload the census API accepts on submission.
// Catalog references are reduced to their id and every flag sits at the top
// level. Waste disposal flags use the categorizer's basuras_* keys
// (vivienda.disposicion_basuras.recolector becomes basuras_recolector);
// servicios_agua flags keep their own name (pozo_septico, letrina,
// campo_abierto).
type LegacyFlatRecord struct {
	Municipio         ItemID `json:"municipio"`
	Parroquia         ItemID `json:"parroquia"`
	Sector            ItemID `json:"sector"`
	Vereda            ItemID `json:"vereda"`
	Corregimiento     ItemID `json:"corregimiento"`
	CentroPoblado     ItemID `json:"centro_poblado"`
	Fecha             string `json:"fecha"`
	ApellidoFamiliar  string `json:"apellido_familiar"`
	Direccion         string `json:"direccion"`
	Telefono          string `json:"telefono"`
	NumeroContratoEPM string `json:"numero_contrato_epm"`

	TipoVivienda ItemID `json:"tipo_vivienda"`
	BasuraFlags

	SistemaAcueducto ItemID `json:"sistema_acueducto"`
	PozoSeptico      bool   `json:"pozo_septico"`
	Letrina          bool   `json:"letrina"`
	CampoAbierto     bool   `json:"campo_abierto"`

	SustentoFamilia          string `json:"sustento_familia"`
	ObservacionesEncuestador string `json:"observaciones_encuestador"`
	AutorizacionDatos        bool   `json:"autorizacion_datos"`

	FamilyMembers   []FamilyMember   `json:"family_members"`
	DeceasedMembers []DeceasedMember `json:"deceased_members"`
}

// ToLegacyFormat flattens a session into the record the API expects.
func ToLegacyFormat(s SurveySessionData) LegacyFlatRecord {
	g := s.InformacionGeneral
	return LegacyFlatRecord{
		Municipio:         itemID(g.Municipio),
		Parroquia:         itemID(g.Parroquia),
		Sector:            itemID(g.Sector),
		Vereda:            itemID(g.Vereda),
		Corregimiento:     itemID(g.Corregimiento),
		CentroPoblado:     itemID(g.CentroPoblado),
		Fecha:             g.Fecha,
		ApellidoFamiliar:  g.ApellidoFamiliar,
		Direccion:         g.Direccion,
		Telefono:          g.Telefono,
		NumeroContratoEPM: g.NumeroContratoEPM,

		TipoVivienda: itemID(s.Vivienda.TipoVivienda),
		BasuraFlags:  FlagsFromDisposicion(s.Vivienda.DisposicionBasuras),

		SistemaAcueducto: itemID(s.ServiciosAgua.SistemaAcueducto),
		PozoSeptico:      s.ServiciosAgua.PozoSeptico,
		Letrina:          s.ServiciosAgua.Letrina,
		CampoAbierto:     s.ServiciosAgua.CampoAbierto,

		SustentoFamilia:          s.Observaciones.SustentoFamilia,
		ObservacionesEncuestador: s.Observaciones.ObservacionesEncuestador,
		AutorizacionDatos:        s.Observaciones.AutorizacionDatos,

		FamilyMembers:   s.FamilyMembers,
		DeceasedMembers: s.DeceasedMembers,
	}
}

// Fields returns the record as a generic map keyed by the JSON names.
func (r LegacyFlatRecord) Fields() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func itemID(c *ConfigurationItem) ItemID {
	if c == nil {
		return ""
	}
	return c.ID
}
