package survey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ItemID is the canonical key of a catalog entry. The API and older drafts
// send it either as a JSON number or as a JSON string; both decode to the
// same ItemID.
type ItemID string

// UnmarshalJSON accepts numbers and strings.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("catalog id %s: %w", data, err)
	}
	*id = ItemID(n.String())
	return nil
}

// MarshalJSON emits a number for canonical integer ids and a string
// otherwise, so keys such as "05001" keep their leading zero.
func (id ItemID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int64(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// Int64 reports the numeric value of the id. Only ids written the way
// strconv.FormatInt would write them count as numeric.
func (id ItemID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != string(id) {
		return 0, false
	}
	return n, true
}

// String returns the raw key.
func (id ItemID) String() string { return string(id) }

// ConfigurationItem references an entry of an externally managed catalog.
type ConfigurationItem struct {
	ID     ItemID `json:"id"`
	Nombre string `json:"nombre"`
}

// Item is a shorthand constructor for a catalog reference.
func Item(id ItemID, nombre string) *ConfigurationItem {
	return &ConfigurationItem{ID: id, Nombre: nombre}
}

func cloneItem(c *ConfigurationItem) *ConfigurationItem {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}

// InformacionGeneral holds the household location and contact data.
type InformacionGeneral struct {
	Municipio         *ConfigurationItem `json:"municipio"`
	Parroquia         *ConfigurationItem `json:"parroquia"`
	Sector            *ConfigurationItem `json:"sector"`
	Vereda            *ConfigurationItem `json:"vereda"`
	Corregimiento     *ConfigurationItem `json:"corregimiento"`
	CentroPoblado     *ConfigurationItem `json:"centro_poblado"`
	Fecha             string             `json:"fecha"`
	ApellidoFamiliar  string             `json:"apellido_familiar"`
	Direccion         string             `json:"direccion"`
	Telefono          string             `json:"telefono"`
	NumeroContratoEPM string             `json:"numero_contrato_epm"`
}

// DisposicionBasuras lists how the household disposes of its waste. Flags are
// not mutually exclusive.
type DisposicionBasuras struct {
	Recolector bool `json:"recolector"`
	Quemada    bool `json:"quemada"`
	Enterrada  bool `json:"enterrada"`
	Recicla    bool `json:"recicla"`
	AireLibre  bool `json:"aire_libre"`
	NoAplica   bool `json:"no_aplica"`
}

// Vivienda describes the dwelling.
type Vivienda struct {
	TipoVivienda       *ConfigurationItem `json:"tipo_vivienda"`
	DisposicionBasuras DisposicionBasuras `json:"disposicion_basuras"`
}

// ServiciosAgua describes water supply and sewage disposal.
type ServiciosAgua struct {
	SistemaAcueducto *ConfigurationItem `json:"sistema_acueducto"`
	PozoSeptico      bool               `json:"pozo_septico"`
	Letrina          bool               `json:"letrina"`
	CampoAbierto     bool               `json:"campo_abierto"`
}

// Observaciones holds free text notes and the data processing consent.
type Observaciones struct {
	SustentoFamilia          string `json:"sustento_familia"`
	ObservacionesEncuestador string `json:"observaciones_encuestador"`
	AutorizacionDatos        bool   `json:"autorizacion_datos"`
}

// Tallas are the clothing sizes recorded for a family member.
type Tallas struct {
	Camisa   string `json:"camisa"`
	Pantalon string `json:"pantalon"`
	Zapato   string `json:"zapato"`
}

// FamilyMember is one living member of the household.
type FamilyMember struct {
	Nombres                 string             `json:"nombres"`
	FechaNacimiento         string             `json:"fecha_nacimiento"`
	TipoIdentificacion      *ConfigurationItem `json:"tipo_identificacion"`
	NumeroIdentificacion    string             `json:"numero_identificacion"`
	Sexo                    *ConfigurationItem `json:"sexo"`
	Telefono                string             `json:"telefono"`
	Email                   string             `json:"email"`
	SituacionCivil          *ConfigurationItem `json:"situacion_civil"`
	Estudio                 *ConfigurationItem `json:"estudio"`
	Parentesco              *ConfigurationItem `json:"parentesco"`
	ComunidadCultural       *ConfigurationItem `json:"comunidad_cultural"`
	Profesion               *ConfigurationItem `json:"profesion"`
	Enfermedad              *ConfigurationItem `json:"enfermedad"`
	NecesidadesEnfermo      string             `json:"necesidades_enfermo"`
	SolicitudComunionEnCasa bool               `json:"solicitud_comunion_en_casa"`
	Tallas                  Tallas             `json:"tallas"`
	Habilidades             []string           `json:"habilidades,omitempty"`
	Destrezas               []string           `json:"destrezas,omitempty"`
	Notas                   string             `json:"notas"`
}

func (m FamilyMember) clone() FamilyMember {
	cp := m
	cp.TipoIdentificacion = cloneItem(m.TipoIdentificacion)
	cp.Sexo = cloneItem(m.Sexo)
	cp.SituacionCivil = cloneItem(m.SituacionCivil)
	cp.Estudio = cloneItem(m.Estudio)
	cp.Parentesco = cloneItem(m.Parentesco)
	cp.ComunidadCultural = cloneItem(m.ComunidadCultural)
	cp.Profesion = cloneItem(m.Profesion)
	cp.Enfermedad = cloneItem(m.Enfermedad)
	cp.Habilidades = cloneStrings(m.Habilidades)
	cp.Destrezas = cloneStrings(m.Destrezas)
	return cp
}

// DeceasedMember is a household member who has passed away.
type DeceasedMember struct {
	Nombres            string             `json:"nombres"`
	FechaFallecimiento string             `json:"fecha_fallecimiento"`
	Sexo               *ConfigurationItem `json:"sexo"`
	Parentesco         *ConfigurationItem `json:"parentesco"`
	EraPadre           bool               `json:"era_padre"`
	EraMadre           bool               `json:"era_madre"`
	CausaFallecimiento string             `json:"causa_fallecimiento"`
}

func (m DeceasedMember) clone() DeceasedMember {
	cp := m
	cp.Sexo = cloneItem(m.Sexo)
	cp.Parentesco = cloneItem(m.Parentesco)
	return cp
}

// Metadata tracks wizard progress.
type Metadata struct {
	Timestamp    string `json:"timestamp"`
	Completed    bool   `json:"completed"`
	CurrentStage Stage  `json:"currentStage"`
}

// SurveySessionData is one in-progress or completed household survey.
type SurveySessionData struct {
	InformacionGeneral InformacionGeneral `json:"informacionGeneral"`
	Vivienda           Vivienda           `json:"vivienda"`
	ServiciosAgua      ServiciosAgua      `json:"servicios_agua"`
	Observaciones      Observaciones      `json:"observaciones"`
	FamilyMembers      []FamilyMember     `json:"familyMembers"`
	DeceasedMembers    []DeceasedMember   `json:"deceasedMembers"`
	Metadata           Metadata           `json:"metadata"`
}

// Clone returns a deep copy of the session.
func (s SurveySessionData) Clone() SurveySessionData {
	cp := s
	g := &cp.InformacionGeneral
	g.Municipio = cloneItem(g.Municipio)
	g.Parroquia = cloneItem(g.Parroquia)
	g.Sector = cloneItem(g.Sector)
	g.Vereda = cloneItem(g.Vereda)
	g.Corregimiento = cloneItem(g.Corregimiento)
	g.CentroPoblado = cloneItem(g.CentroPoblado)
	cp.Vivienda.TipoVivienda = cloneItem(s.Vivienda.TipoVivienda)
	cp.ServiciosAgua.SistemaAcueducto = cloneItem(s.ServiciosAgua.SistemaAcueducto)

	if s.FamilyMembers != nil {
		cp.FamilyMembers = make([]FamilyMember, len(s.FamilyMembers))
		for i, m := range s.FamilyMembers {
			cp.FamilyMembers[i] = m.clone()
		}
	}
	if s.DeceasedMembers != nil {
		cp.DeceasedMembers = make([]DeceasedMember, len(s.DeceasedMembers))
		for i, m := range s.DeceasedMembers {
			cp.DeceasedMembers[i] = m.clone()
		}
	}
	return cp
}

// ModifiedAt parses metadata.timestamp.
func (s SurveySessionData) ModifiedAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s.Metadata.Timestamp)
}
