package plan

import (
	"context"
	"fmt"
	"strings"
)

var staticShotCycle = []string{"Wide Shot", "Medium Shot", "Close Up", "Low Angle", "Over the Shoulder"}

// StaticPlanner produces a deterministic storyboard. It backs the
// Gemini planner as a fallback and keeps local environments working
// without credentials.
type StaticPlanner struct{}

func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{}
}

func (s *StaticPlanner) Plan(_ context.Context, req Request) ([]ScenePlan, error) {
	count := req.SceneCount
	if count <= 0 {
		count = 1
	}
	concept := strings.TrimSpace(req.Concept)
	if concept == "" {
		concept = "the product in a lifestyle setting"
	}
	plans := make([]ScenePlan, count)
	for i := range plans {
		shot := staticShotCycle[i%len(staticShotCycle)]
		plans[i] = ScenePlan{
			VisualInstruction: fmt.Sprintf("%s. %s of %s, natural lighting, photorealistic.", shot, shot, concept),
			VoiceOver:         staticVoiceOver(req.Locale, i+1, count),
			ShotType:          shot,
		}
	}
	return plans, nil
}

func staticVoiceOver(locale string, scene, total int) string {
	if strings.HasPrefix(strings.ToLower(locale), "id") {
		if scene == total {
			return "Dapatkan sekarang juga."
		}
		return fmt.Sprintf("Inilah bagian %d dari cerita produk kami.", scene)
	}
	if scene == total {
		return "Get yours today."
	}
	return fmt.Sprintf("Here is part %d of our product story.", scene)
}

var _ Planner = (*StaticPlanner)(nil)
