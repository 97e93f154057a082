package survey

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownField is returned when an updater receives a key that does not
	// belong to its section.
	ErrUnknownField = errors.New("survey: unknown field")
	// ErrFieldType is returned when the value cannot be stored in the field.
	ErrFieldType = errors.New("survey: value has wrong type for field")
	// ErrMemberIndex is returned for member operations outside the list.
	ErrMemberIndex = errors.New("survey: member index out of range")
	// ErrInvalidStage is returned when moving the wizard to a stage outside 1..6.
	ErrInvalidStage = errors.New("survey: invalid stage")
)

// GeneralField names a field of informacionGeneral.
type GeneralField string

const (
	FieldMunicipio         GeneralField = "municipio"
	FieldParroquia         GeneralField = "parroquia"
	FieldSector            GeneralField = "sector"
	FieldVereda            GeneralField = "vereda"
	FieldCorregimiento     GeneralField = "corregimiento"
	FieldCentroPoblado     GeneralField = "centro_poblado"
	FieldFecha             GeneralField = "fecha"
	FieldApellidoFamiliar  GeneralField = "apellido_familiar"
	FieldDireccion         GeneralField = "direccion"
	FieldTelefono          GeneralField = "telefono"
	FieldNumeroContratoEPM GeneralField = "numero_contrato_epm"
)

// ViviendaField names a field of vivienda.
type ViviendaField string

const (
	FieldTipoVivienda       ViviendaField = "tipo_vivienda"
	FieldDisposicionBasuras ViviendaField = "disposicion_basuras"
)

// BasuraField names one of the waste disposal flags.
type BasuraField string

const (
	BasuraRecolector BasuraField = "recolector"
	BasuraQuemada    BasuraField = "quemada"
	BasuraEnterrada  BasuraField = "enterrada"
	BasuraRecicla    BasuraField = "recicla"
	BasuraAireLibre  BasuraField = "aire_libre"
	BasuraNoAplica   BasuraField = "no_aplica"
)

// AguaField names a field of servicios_agua.
type AguaField string

const (
	FieldSistemaAcueducto AguaField = "sistema_acueducto"
	FieldPozoSeptico      AguaField = "pozo_septico"
	FieldLetrina          AguaField = "letrina"
	FieldCampoAbierto     AguaField = "campo_abierto"
)

// ObservacionesField names a field of observaciones.
type ObservacionesField string

const (
	FieldSustentoFamilia          ObservacionesField = "sustento_familia"
	FieldObservacionesEncuestador ObservacionesField = "observaciones_encuestador"
	FieldAutorizacionDatos        ObservacionesField = "autorizacion_datos"
)

// UpdateInformacionGeneral returns a copy of s with one general information
// field replaced.
func (e *Editor) UpdateInformacionGeneral(s SurveySessionData, field GeneralField, value any) (SurveySessionData, error) {
	next := s.Clone()
	g := &next.InformacionGeneral
	var err error
	switch field {
	case FieldMunicipio:
		err = setItem(&g.Municipio, string(field), value)
	case FieldParroquia:
		err = setItem(&g.Parroquia, string(field), value)
	case FieldSector:
		err = setItem(&g.Sector, string(field), value)
	case FieldVereda:
		err = setItem(&g.Vereda, string(field), value)
	case FieldCorregimiento:
		err = setItem(&g.Corregimiento, string(field), value)
	case FieldCentroPoblado:
		err = setItem(&g.CentroPoblado, string(field), value)
	case FieldFecha:
		err = setString(&g.Fecha, string(field), value)
	case FieldApellidoFamiliar:
		err = setString(&g.ApellidoFamiliar, string(field), value)
	case FieldDireccion:
		err = setString(&g.Direccion, string(field), value)
	case FieldTelefono:
		err = setString(&g.Telefono, string(field), value)
	case FieldNumeroContratoEPM:
		err = setString(&g.NumeroContratoEPM, string(field), value)
	default:
		err = fmt.Errorf("%w: informacionGeneral.%s", ErrUnknownField, field)
	}
	return e.commit(s, next, err)
}

// UpdateVivienda returns a copy of s with one housing field replaced.
func (e *Editor) UpdateVivienda(s SurveySessionData, field ViviendaField, value any) (SurveySessionData, error) {
	next := s.Clone()
	var err error
	switch field {
	case FieldTipoVivienda:
		err = setItem(&next.Vivienda.TipoVivienda, string(field), value)
	case FieldDisposicionBasuras:
		switch v := value.(type) {
		case DisposicionBasuras:
			next.Vivienda.DisposicionBasuras = v
		case *DisposicionBasuras:
			if v == nil {
				next.Vivienda.DisposicionBasuras = DisposicionBasuras{}
			} else {
				next.Vivienda.DisposicionBasuras = *v
			}
		default:
			err = typeError(string(field), value)
		}
	default:
		err = fmt.Errorf("%w: vivienda.%s", ErrUnknownField, field)
	}
	return e.commit(s, next, err)
}

// UpdateDisposicionBasuras returns a copy of s with one waste disposal flag
// replaced.
func (e *Editor) UpdateDisposicionBasuras(s SurveySessionData, field BasuraField, value bool) (SurveySessionData, error) {
	next := s.Clone()
	d := &next.Vivienda.DisposicionBasuras
	var err error
	switch field {
	case BasuraRecolector:
		d.Recolector = value
	case BasuraQuemada:
		d.Quemada = value
	case BasuraEnterrada:
		d.Enterrada = value
	case BasuraRecicla:
		d.Recicla = value
	case BasuraAireLibre:
		d.AireLibre = value
	case BasuraNoAplica:
		d.NoAplica = value
	default:
		err = fmt.Errorf("%w: disposicion_basuras.%s", ErrUnknownField, field)
	}
	return e.commit(s, next, err)
}

// UpdateServiciosAgua returns a copy of s with one water service field
// replaced.
func (e *Editor) UpdateServiciosAgua(s SurveySessionData, field AguaField, value any) (SurveySessionData, error) {
	next := s.Clone()
	a := &next.ServiciosAgua
	var err error
	switch field {
	case FieldSistemaAcueducto:
		err = setItem(&a.SistemaAcueducto, string(field), value)
	case FieldPozoSeptico:
		err = setBool(&a.PozoSeptico, string(field), value)
	case FieldLetrina:
		err = setBool(&a.Letrina, string(field), value)
	case FieldCampoAbierto:
		err = setBool(&a.CampoAbierto, string(field), value)
	default:
		err = fmt.Errorf("%w: servicios_agua.%s", ErrUnknownField, field)
	}
	return e.commit(s, next, err)
}

// UpdateObservaciones returns a copy of s with one observation field replaced.
func (e *Editor) UpdateObservaciones(s SurveySessionData, field ObservacionesField, value any) (SurveySessionData, error) {
	next := s.Clone()
	o := &next.Observaciones
	var err error
	switch field {
	case FieldSustentoFamilia:
		err = setString(&o.SustentoFamilia, string(field), value)
	case FieldObservacionesEncuestador:
		err = setString(&o.ObservacionesEncuestador, string(field), value)
	case FieldAutorizacionDatos:
		err = setBool(&o.AutorizacionDatos, string(field), value)
	default:
		err = fmt.Errorf("%w: observaciones.%s", ErrUnknownField, field)
	}
	return e.commit(s, next, err)
}

// AddFamilyMember appends a member to the household.
func (e *Editor) AddFamilyMember(s SurveySessionData, m FamilyMember) SurveySessionData {
	next := s.Clone()
	next.FamilyMembers = append(next.FamilyMembers, m.clone())
	e.stamp(&next)
	return next
}

// UpdateFamilyMember replaces the member at index i.
func (e *Editor) UpdateFamilyMember(s SurveySessionData, i int, m FamilyMember) (SurveySessionData, error) {
	if i < 0 || i >= len(s.FamilyMembers) {
		return s, fmt.Errorf("%w: family member %d of %d", ErrMemberIndex, i, len(s.FamilyMembers))
	}
	next := s.Clone()
	next.FamilyMembers[i] = m.clone()
	e.stamp(&next)
	return next, nil
}

// RemoveFamilyMember drops the member at index i keeping the order of the rest.
func (e *Editor) RemoveFamilyMember(s SurveySessionData, i int) (SurveySessionData, error) {
	if i < 0 || i >= len(s.FamilyMembers) {
		return s, fmt.Errorf("%w: family member %d of %d", ErrMemberIndex, i, len(s.FamilyMembers))
	}
	next := s.Clone()
	next.FamilyMembers = append(next.FamilyMembers[:i], next.FamilyMembers[i+1:]...)
	e.stamp(&next)
	return next, nil
}

// AddDeceasedMember appends a deceased member record.
func (e *Editor) AddDeceasedMember(s SurveySessionData, m DeceasedMember) SurveySessionData {
	next := s.Clone()
	next.DeceasedMembers = append(next.DeceasedMembers, m.clone())
	e.stamp(&next)
	return next
}

// UpdateDeceasedMember replaces the deceased member at index i.
func (e *Editor) UpdateDeceasedMember(s SurveySessionData, i int, m DeceasedMember) (SurveySessionData, error) {
	if i < 0 || i >= len(s.DeceasedMembers) {
		return s, fmt.Errorf("%w: deceased member %d of %d", ErrMemberIndex, i, len(s.DeceasedMembers))
	}
	next := s.Clone()
	next.DeceasedMembers[i] = m.clone()
	e.stamp(&next)
	return next, nil
}

// RemoveDeceasedMember drops the deceased member at index i.
func (e *Editor) RemoveDeceasedMember(s SurveySessionData, i int) (SurveySessionData, error) {
	if i < 0 || i >= len(s.DeceasedMembers) {
		return s, fmt.Errorf("%w: deceased member %d of %d", ErrMemberIndex, i, len(s.DeceasedMembers))
	}
	next := s.Clone()
	next.DeceasedMembers = append(next.DeceasedMembers[:i], next.DeceasedMembers[i+1:]...)
	e.stamp(&next)
	return next, nil
}

// SetStage moves the wizard to stage. Going back to an earlier stage is
// allowed so answers can be edited.
func (e *Editor) SetStage(s SurveySessionData, stage Stage) (SurveySessionData, error) {
	if !stage.Valid() {
		return s, fmt.Errorf("%w: %d", ErrInvalidStage, stage)
	}
	next := s.Clone()
	next.Metadata.CurrentStage = stage
	e.stamp(&next)
	return next, nil
}

// MarkCompleted flags the session as submitted.
func (e *Editor) MarkCompleted(s SurveySessionData) SurveySessionData {
	next := s.Clone()
	next.Metadata.Completed = true
	e.stamp(&next)
	return next
}

// commit returns next with a fresh timestamp, or the untouched original when
// the update failed.
func (e *Editor) commit(orig, next SurveySessionData, err error) (SurveySessionData, error) {
	if err != nil {
		return orig, err
	}
	e.stamp(&next)
	return next, nil
}

func setItem(dst **ConfigurationItem, field string, value any) error {
	switch v := value.(type) {
	case nil:
		*dst = nil
	case *ConfigurationItem:
		*dst = cloneItem(v)
	case ConfigurationItem:
		*dst = &v
	default:
		return typeError(field, value)
	}
	return nil
}

func setString(dst *string, field string, value any) error {
	v, ok := value.(string)
	if !ok {
		return typeError(field, value)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, field string, value any) error {
	v, ok := value.(bool)
	if !ok {
		return typeError(field, value)
	}
	*dst = v
	return nil
}

func typeError(field string, value any) error {
	return fmt.Errorf("%w: %s got %T", ErrFieldType, field, value)
}

// UpdateInformacionGeneral replaces one general information field using the
// wall clock.
func UpdateInformacionGeneral(s SurveySessionData, field GeneralField, value any) (SurveySessionData, error) {
	return defaultEditor.UpdateInformacionGeneral(s, field, value)
}

// UpdateVivienda replaces one housing field using the wall clock.
func UpdateVivienda(s SurveySessionData, field ViviendaField, value any) (SurveySessionData, error) {
	return defaultEditor.UpdateVivienda(s, field, value)
}

// UpdateDisposicionBasuras replaces one waste disposal flag using the wall
// clock.
func UpdateDisposicionBasuras(s SurveySessionData, field BasuraField, value bool) (SurveySessionData, error) {
	return defaultEditor.UpdateDisposicionBasuras(s, field, value)
}

// UpdateServiciosAgua replaces one water service field using the wall clock.
func UpdateServiciosAgua(s SurveySessionData, field AguaField, value any) (SurveySessionData, error) {
	return defaultEditor.UpdateServiciosAgua(s, field, value)
}

// UpdateObservaciones replaces one observation field using the wall clock.
func UpdateObservaciones(s SurveySessionData, field ObservacionesField, value any) (SurveySessionData, error) {
	return defaultEditor.UpdateObservaciones(s, field, value)
}
