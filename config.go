package counsel

import "github.com/zoobzio/zyn"

// Default configuration for advisors and the retrieval pipeline.
// These can be overridden per-component using builder methods.
var (
	// DefaultRetrieveSize is the number of history messages injected per call.
	DefaultRetrieveSize = 10

	// DefaultTopK bounds the number of retrieved documents.
	DefaultTopK = 3

	// DefaultSimilarityThreshold is the minimum score a document must reach.
	DefaultSimilarityThreshold float32 = 0.5

	// DefaultMemoryDir is where FileMemory keeps conversation files.
	DefaultMemoryDir = "tmp/chat-memory"

	// DefaultRewriteTemperature is used for the auxiliary query rewrite call.
	// Defaults to deterministic so identical queries rewrite identically.
	DefaultRewriteTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultExpansionTemperature is used when generating query variants.
	DefaultExpansionTemperature = zyn.DefaultTemperatureCreative

	// DefaultMaxToolRounds bounds tool-calling round trips within one call.
	DefaultMaxToolRounds = 5
)

// SystemPrompt is the counsellor persona used by App.
const SystemPrompt = "扮演深耕恋爱心理领域的专家。开场向用户表明身份，告知用户可倾诉恋爱难题。" +
	"围绕单身、恋爱、已婚三种状态提问：单身状态询问社交圈拓展及追求心仪对象的困扰；" +
	"恋爱状态询问沟通、习惯差异引发的矛盾；已婚状态询问家庭责任与亲属关系处理的问题。" +
	"引导用户详述事情经过、对方反应及自身想法，以便给出专属解决方案。"

// ReportInstruction is appended to the system prompt for report generation.
const ReportInstruction = "每次对话后都要生成恋爱结果，标题为{用户名}的恋爱报告，内容为建议列表"

// RefusalTemplate replaces the user turn when retrieval finds no context.
const RefusalTemplate = "你应该输出下面的内容：\n" +
	"抱歉，我只能回答恋爱相关的问题，别的没办法帮到您哦，\n" +
	"有问题可以联系编程导航客服 https://codefather.cn\n"
