package classify

import "github.com/fabriq/fabriq/pkg/models"

// Template bundles the deterministic strings injected verbatim into the
// architect and developer prompts for one project type.
type Template struct {
	Dockerfile   string
	Architecture string
	Scaffold     string
}

// For returns the template set for a project type; unknown types get the
// static template.
func For(t models.ProjectType) Template {
	if tpl, ok := templates[t]; ok {
		return tpl
	}
	return templates[models.TypeStatic]
}

var templates = map[models.ProjectType]Template{
	models.TypeStatic: {
		Dockerfile: `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80`,
		Architecture: `- Pure static site: HTML, CSS, vanilla JS only
- No build step, no package.json
- All assets local, no CDN dependencies
- index.html at the repository root`,
		Scaffold: `- index.html with the full page structure
- style.css with the design
- script.js only if interactivity is needed
- Dockerfile matching the template`,
	},
	models.TypeSPA: {
		Dockerfile: `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build
FROM nginx:alpine
COPY --from=build /app/dist /usr/share/nginx/html
EXPOSE 80`,
		Architecture: `- Single-page app built with Vite
- Client-side routing only, no server code
- State kept in the frontend, persisted to localStorage if needed
- Build output goes to dist/`,
		Scaffold: `- package.json with vite and the chosen framework
- index.html entry point
- src/ with main entry and root component
- Dockerfile matching the template`,
	},
	models.TypeAPI: {
		Dockerfile: `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --production
COPY . .
EXPOSE 3000
CMD ["node", "server.js"]`,
		Architecture: `- Node.js + Express HTTP API, no frontend
- JSON responses only
- Server listens on port 3000
- Data persisted to a local JSON file or SQLite`,
		Scaffold: `- package.json with express
- server.js creating the app and listening on 3000
- routes/ directory for endpoint handlers
- Dockerfile matching the template`,
	},
	models.TypeFullstack: {
		Dockerfile: `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build
FROM node:20-alpine
WORKDIR /app
COPY --from=build /app .
EXPOSE 3000
CMD ["node", "server.js"]`,
		Architecture: `- Node.js + Express backend serving both the API and the frontend
- Frontend served from public/ or a build directory
- Server listens on port 3000
- API routes under /api`,
		Scaffold: `- package.json with express and build tooling
- server.js serving static files and /api routes on 3000
- public/ or src/ for the frontend
- Dockerfile matching the template`,
	},
	models.TypeNodeWorker: {
		Dockerfile: `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --production
COPY . .
EXPOSE 3000
CMD ["node", "index.js"]`,
		Architecture: `- Node.js background worker (bot, scraper, or cron job)
- index.js starts the worker loop and a small Express status server on 3000
- Status endpoint GET / returns the worker state as JSON
- Worker errors are logged and retried, never crash the process`,
		Scaffold: `- package.json with express and the worker dependencies
- index.js starting both the worker loop and the status server
- worker.js with the core job logic
- Dockerfile matching the template`,
	},
	models.TypePythonWorker: {
		Dockerfile: `FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt supervisor
COPY . .
EXPOSE 8080
CMD ["supervisord", "-c", "supervisord.conf"]`,
		Architecture: `- Python background worker (bot, scraper, or data job)
- supervisord runs two processes: the worker and a Flask dashboard on 8080
- Dashboard GET / shows the worker status and latest results
- Results shared between processes through a local JSON or SQLite file`,
		Scaffold: `- requirements.txt with flask and the worker dependencies
- bot.py with the worker loop
- app.py with the Flask dashboard on port 8080
- supervisord.conf running bot.py and app.py
- Dockerfile matching the template`,
	},
}
