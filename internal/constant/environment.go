package constant

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"
)
