package conversation

import (
	"fmt"
	"strings"

	"immo-alerts/internal/models"
	"immo-alerts/internal/scoring"
)

const (
	msgWelcome = "👋 Bienvenue ! Je vous envoie les annonces immobilières qui correspondent à votre recherche.\n" +
		"Quelques questions pour commencer."

	msgAskType = "1️⃣ Quel type de bien cherchez-vous ?\n1. Maison\n2. Appartement\n3. Les deux"
	msgBadType = "Je n'ai pas compris le type de bien. Répondez \"maison\", \"appartement\" ou \"les deux\" (ou 1, 2, 3)."

	msgAskPrice = "2️⃣ Quel est votre budget ? Exemples : \"250000\", \"200k à 300k\", \"max 1,2M\"."
	msgBadPrice = "Je n'ai pas trouvé de montant. Indiquez un budget en euros, par exemple \"250000\" ou \"entre 200k et 300k\"."

	msgAskLocations = "3️⃣ Dans quelles villes ou quartiers ? Séparez-les par des virgules."
	msgBadLocations = "Indiquez au moins une ville, par exemple \"Lyon, Villeurbanne\"."

	msgAskRooms = "4️⃣ Combien de pièces minimum ? (répondez \"pas important\" pour passer)"
	msgBadRooms = "Indiquez un nombre de pièces, par exemple \"3\", ou \"pas important\"."

	msgAskSurface = "5️⃣ Quelle surface minimum en m² ? (répondez \"pas important\" pour passer)"
	msgBadSurface = "Indiquez une surface, par exemple \"60\", ou \"pas important\"."

	msgAskConfirm = "Est-ce correct ? Répondez \"oui\" pour activer les alertes ou \"modifier\" pour recommencer."

	msgActivated = "✅ C'est parti ! Vous recevrez les nouvelles annonces correspondant à vos critères."

	msgMenu = "Commandes disponibles :\n" +
		"• statut : voir vos critères\n" +
		"• modifier : changer vos critères\n" +
		"• pause : suspendre les alertes\n" +
		"• aide : afficher l'aide"

	msgHelp = "ℹ️ Je surveille les annonces immobilières et vous alerte quand l'une d'elles correspond à vos critères.\n\n" + msgMenu

	msgAck = "👍 Bien reçu. Vos alertes sont actives."

	msgPaused   = "⏸️ Alertes suspendues. Répondez \"reprendre\" pour les réactiver."
	msgResumed  = "▶️ Alertes réactivées !"
	msgReminder = "Vos alertes sont en pause. Répondez \"reprendre\" pour les réactiver ou \"statut\" pour voir vos critères."
)

var stepPrompts = map[int]string{
	1: msgAskType,
	2: msgAskPrice,
	3: msgAskLocations,
	4: msgAskRooms,
	5: msgAskSurface,
}

var stateLabels = map[models.ConversationState]string{
	models.StateIdle:               "inactif",
	models.StateCollectingCriteria: "configuration en cours",
	models.StateConfirming:         "en attente de confirmation",
	models.StateActive:             "alertes actives",
	models.StatePaused:             "alertes en pause",
}

// SummarizeCriteria renders criteria as a short human-readable block.
func SummarizeCriteria(c *models.Criteria) string {
	var sb strings.Builder
	sb.WriteString("🔎 Vos critères :\n")
	fmt.Fprintf(&sb, "• Type : %s\n", scoring.PropertyLabel(c.PropertyType))
	fmt.Fprintf(&sb, "• Budget : %s\n", priceRange(c.MinPrice, c.MaxPrice))
	if len(c.Locations) > 0 {
		fmt.Fprintf(&sb, "• Localisation : %s\n", strings.Join(c.Locations, ", "))
	} else {
		sb.WriteString("• Localisation : non renseignée\n")
	}
	if c.MinRooms != nil {
		fmt.Fprintf(&sb, "• Pièces : %d minimum\n", *c.MinRooms)
	} else {
		sb.WriteString("• Pièces : indifférent\n")
	}
	if c.MinSurface != nil {
		fmt.Fprintf(&sb, "• Surface : %.0f m² minimum", *c.MinSurface)
	} else {
		sb.WriteString("• Surface : indifférent")
	}
	return sb.String()
}

func priceRange(min, max *float64) string {
	switch {
	case min != nil && max != nil && *min > 0:
		return fmt.Sprintf("de %s à %s", scoring.FormatPrice(*min), scoring.FormatPrice(*max))
	case max != nil:
		return fmt.Sprintf("jusqu'à %s", scoring.FormatPrice(*max))
	case min != nil:
		return fmt.Sprintf("à partir de %s", scoring.FormatPrice(*min))
	}
	return "indifférent"
}

func statusMessage(state models.ConversationState, c *models.Criteria) string {
	label, ok := stateLabels[state]
	if !ok {
		label = string(state)
	}
	if c == nil {
		return fmt.Sprintf("📋 Statut : %s\nAucun critère enregistré. Répondez \"modifier\" pour les définir.", label)
	}
	return fmt.Sprintf("📋 Statut : %s\n\n%s", label, SummarizeCriteria(c))
}
