package pipeline

// DefaultStages wires every stage constructor together in StageOrder
// (§2). This is the table Orchestrator drives from start to finish.
func DefaultStages() []StageDef {
	return []StageDef{
		TemplateStage(),
		EventsStage(),
		EventKnowledgeStage(),
		CharactersStage(),
		LocationsStage(),
		FactGraphStage(),
		FactDescStage(),
		IntroductionStage(),
		CasebookStage(),
		ProseStage(),
		QuestionsStage(),
		OptimalPathStage(),
		StoreStage(),
	}
}
