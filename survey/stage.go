package survey

import "strings"

// Stage is one step of the six step survey wizard.
type Stage int

const (
	StageGeneral Stage = iota + 1
	StageVivienda
	StageServiciosAgua
	StageFamilia
	StageDifuntos
	StageObservaciones
)

// Stages lists the wizard stages in order.
var Stages = []Stage{
	StageGeneral,
	StageVivienda,
	StageServiciosAgua,
	StageFamilia,
	StageDifuntos,
	StageObservaciones,
}

// Valid reports whether the stage is one of the six wizard stages.
func (st Stage) Valid() bool {
	return st >= StageGeneral && st <= StageObservaciones
}

func (st Stage) String() string {
	switch st {
	case StageGeneral:
		return "informacion_general"
	case StageVivienda:
		return "vivienda"
	case StageServiciosAgua:
		return "servicios_agua"
	case StageFamilia:
		return "familia"
	case StageDifuntos:
		return "difuntos"
	case StageObservaciones:
		return "observaciones"
	default:
		return "desconocida"
	}
}

// IsStageComplete reports whether the mandatory fields of stage are filled.
// Numbers outside 1..6 have no requirements and report true; use
// ReadyToSubmit to gate submission.
func IsStageComplete(s SurveySessionData, stage Stage) bool {
	switch stage {
	case StageGeneral:
		g := s.InformacionGeneral
		return g.Municipio != nil && g.Municipio.ID != "" &&
			notBlank(g.ApellidoFamiliar) &&
			notBlank(g.Direccion) &&
			notBlank(g.Fecha)
	case StageVivienda:
		return s.Vivienda.TipoVivienda != nil
	case StageFamilia:
		return len(s.FamilyMembers) > 0
	case StageObservaciones:
		return s.Observaciones.AutorizacionDatos
	default:
		return true
	}
}

// FirstIncompleteStage returns the first wizard stage whose requirements are
// not met, or false when every stage is complete.
func FirstIncompleteStage(s SurveySessionData) (Stage, bool) {
	for _, st := range Stages {
		if !IsStageComplete(s, st) {
			return st, true
		}
	}
	return 0, false
}

// ReadyToSubmit reports whether all six stages are complete.
func ReadyToSubmit(s SurveySessionData) bool {
	_, missing := FirstIncompleteStage(s)
	return !missing
}

func notBlank(v string) bool {
	return strings.TrimSpace(v) != ""
}
