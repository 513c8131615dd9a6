package watcher

import "github.com/ayamte/chronogaz-tracking/internal/models"

// Phase is the single status a tracking screen shows. Three upstream
// statuses collapse into it with explicit precedence: the commande once it
// has entered execution (it is the most authoritative record), then the
// livraison, then the planification.
type Phase string

const (
	PhaseEnAttente Phase = "EN_ATTENTE"
	PhaseEnCours   Phase = "EN_COURS"
	PhaseLivree    Phase = "LIVREE"
	PhaseEchouee   Phase = "ECHOUEE"
	PhaseAnnulee   Phase = "ANNULEE"
)

func (p Phase) Terminal() bool {
	return p == PhaseLivree || p == PhaseEchouee || p == PhaseAnnulee
}

// ReducePhase folds the commande, livraison and planification statuses into
// one phase. Empty strings mean "no such record yet".
func ReducePhase(statutCommande, statutLivraison, statutPlanification string) Phase {
	switch statutCommande {
	case models.OrderStatusEnCours:
		// Wins over a stale terminal livraison status too: the commande is
		// the last record to close.
		return PhaseEnCours
	case models.OrderStatusLivree:
		return PhaseLivree
	case models.OrderStatusEchouee:
		return PhaseEchouee
	case models.OrderStatusAnnulee:
		return PhaseAnnulee
	}

	switch statutLivraison {
	case models.DeliveryStatusEnCours:
		return PhaseEnCours
	case models.DeliveryStatusLivre:
		return PhaseLivree
	case models.DeliveryStatusEchec:
		return PhaseEchouee
	case models.DeliveryStatusAnnule:
		return PhaseAnnulee
	}

	if statutPlanification == models.PlanningStatusAnnule {
		return PhaseAnnulee
	}
	return PhaseEnAttente
}
